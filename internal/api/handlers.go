package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Provisioner resolves a project identifier to its device credential
type Provisioner interface {
	GetOrProvision(ctx context.Context, projectID string) (string, error)
	ProjectIDs() []string
	DeviceCount() int
}

// TelemetryForwarder sends a payload to the platform using a device credential
type TelemetryForwarder interface {
	PostTelemetry(ctx context.Context, credential string, payload map[string]interface{}) error
}

// TokenStatus reports whether the shared platform token is currently valid
type TokenStatus interface {
	Valid() bool
}

// Handlers contains all HTTP handlers for the gateway
type Handlers struct {
	logger      *logrus.Logger
	provisioner Provisioner
	forwarder   TelemetryForwarder
	tokens      TokenStatus
	feed        *ActivityFeed
	startTime   time.Time
	version     string
}

// NewHandlers creates a new handlers instance
func NewHandlers(logger *logrus.Logger, provisioner Provisioner, forwarder TelemetryForwarder, tokens TokenStatus, feed *ActivityFeed, version string) *Handlers {
	return &Handlers{
		logger:      logger,
		provisioner: provisioner,
		forwarder:   forwarder,
		tokens:      tokens,
		feed:        feed,
		startTime:   time.Now(),
		version:     version,
	}
}

// SubmitTelemetry handles POST /api/telemetry (and its /telemetry alias):
// validates the packet, provisions the device on first sight, forwards the
// reading with the cached credential.
func (h *Handlers) SubmitTelemetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TelemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Malformed packets are rejected before any remote call
	if req.ProjectID == "" || len(req.Data) == 0 {
		h.writeError(w, http.StatusBadRequest, "missing project_id or data")
		return
	}

	credential, err := h.provisioner.GetOrProvision(ctx, req.ProjectID)
	if err != nil {
		h.logger.WithError(err).WithField("project_id", req.ProjectID).Error("Provisioning failed")
		h.publish(ActivityEvent{Type: EventProvisionFailed, ProjectID: req.ProjectID})
		h.writeError(w, http.StatusInternalServerError, "provisioning failed")
		return
	}

	if err := h.forwarder.PostTelemetry(ctx, credential, req.Data); err != nil {
		h.logger.WithError(err).WithField("project_id", req.ProjectID).Error("Telemetry forwarding failed")
		h.publish(ActivityEvent{Type: EventForwardFailed, ProjectID: req.ProjectID})
		h.writeError(w, http.StatusBadGateway, "telemetry forwarding failed")
		return
	}

	h.logger.WithField("project_id", req.ProjectID).Debug("Telemetry forwarded")
	h.publish(ActivityEvent{Type: EventTelemetryForwarded, ProjectID: req.ProjectID})

	h.writeJSON(w, http.StatusOK, TelemetryResponse{Status: "success"})
}

// ListDevices handles GET /api/devices. Credentials are deliberately
// omitted from the response; operators who need them read the mapping
// mirror directly.
func (h *Handlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.provisioner.ProjectIDs()

	h.writeJSON(w, http.StatusOK, DeviceListResponse{
		Devices: devices,
		Count:   len(devices),
	})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		TokenValid:    h.tokens.Valid(),
		DeviceCount:   h.provisioner.DeviceCount(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Version:       h.version,
		Timestamp:     time.Now().UTC(),
	})
}

// Events handles GET /api/events, upgrading to a websocket and streaming
// gateway activity
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		h.writeError(w, http.StatusNotFound, "activity feed disabled")
		return
	}
	h.feed.HandleConnection(w, r)
}

func (h *Handlers) publish(event ActivityEvent) {
	if h.feed != nil {
		h.feed.Publish(event)
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}
