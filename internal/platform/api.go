package platform

import (
	"context"
	"net/http"
	"net/url"
)

// DeviceType is the device profile assigned to every provisioned device
const DeviceType = "SmartCityDevice"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type createDeviceRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type createDeviceResponse struct {
	ID struct {
		ID string `json:"id"`
	} `json:"id"`
}

type credentialsResponse struct {
	CredentialsID string `json:"credentialsId"`
}

// Login authenticates the platform account and returns a bearer token
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	const op = "login"

	body, err := c.do(ctx, op, http.MethodPost, "/api/auth/login", "", &loginRequest{
		Username: username,
		Password: password,
	}, c.adminTimeout)
	if err != nil {
		return "", err
	}

	var resp loginResponse
	if err := decode(op, body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &Error{Op: op, Kind: KindMalformed, Err: errMissingField("token")}
	}

	return resp.Token, nil
}

// CreateDevice registers a new device named after the project identifier
// and returns its platform device ID
func (c *Client) CreateDevice(ctx context.Context, bearer, projectID string) (string, error) {
	const op = "create device"

	body, err := c.do(ctx, op, http.MethodPost, "/api/device", bearer, &createDeviceRequest{
		Name: projectID,
		Type: DeviceType,
	}, c.adminTimeout)
	if err != nil {
		return "", err
	}

	var resp createDeviceResponse
	if err := decode(op, body, &resp); err != nil {
		return "", err
	}
	if resp.ID.ID == "" {
		return "", &Error{Op: op, Kind: KindMalformed, Err: errMissingField("id.id")}
	}

	return resp.ID.ID, nil
}

// DeviceCredentials fetches the access token issued to a device
func (c *Client) DeviceCredentials(ctx context.Context, bearer, deviceID string) (string, error) {
	const op = "fetch credentials"

	body, err := c.do(ctx, op, http.MethodGet, "/api/device/"+url.PathEscape(deviceID)+"/credentials", bearer, nil, c.adminTimeout)
	if err != nil {
		return "", err
	}

	var resp credentialsResponse
	if err := decode(op, body, &resp); err != nil {
		return "", err
	}
	if resp.CredentialsID == "" {
		return "", &Error{Op: op, Kind: KindMalformed, Err: errMissingField("credentialsId")}
	}

	return resp.CredentialsID, nil
}

// PostTelemetry forwards a telemetry payload using a device credential.
// The credential is part of the URL, which is why do() keeps URLs out of
// every diagnostic path.
func (c *Client) PostTelemetry(ctx context.Context, credential string, payload map[string]interface{}) error {
	const op = "send telemetry"

	_, err := c.do(ctx, op, http.MethodPost, "/api/v1/"+url.PathEscape(credential)+"/telemetry", "", payload, c.telemetryTimeout)
	return err
}

type missingFieldError string

func (e missingFieldError) Error() string {
	return "response missing field " + string(e)
}

func errMissingField(field string) error {
	return missingFieldError(field)
}
