package api

import "time"

// TelemetryRequest is an inbound device reading
type TelemetryRequest struct {
	ProjectID string                 `json:"project_id"`
	Data      map[string]interface{} `json:"data"`
}

// TelemetryResponse is returned on successful forwarding
type TelemetryResponse struct {
	Status string `json:"status"`
}

// ErrorResponse carries a client-facing error message. It never contains
// credential or token values.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DeviceListResponse lists provisioned project identifiers
type DeviceListResponse struct {
	Devices []string `json:"devices"`
	Count   int      `json:"count"`
}

// HealthResponse reports gateway liveness for monitoring
type HealthResponse struct {
	Status        string    `json:"status"`
	TokenValid    bool      `json:"tokenValid"`
	DeviceCount   int       `json:"deviceCount"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	Version       string    `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
}
