package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// maxErrorBody bounds how much of a rejection body is kept for diagnostics
	maxErrorBody = 512
)

// Client is a stateless HTTP client for the remote IoT platform. It makes
// single-attempt calls with bounded per-call timeouts; retry policy, if any,
// belongs to the caller.
type Client struct {
	httpClient       *http.Client
	baseURL          string
	logger           *logrus.Logger
	adminTimeout     time.Duration
	telemetryTimeout time.Duration
}

// ClientConfig holds configuration for the platform client
type ClientConfig struct {
	BaseURL          string
	AdminTimeout     time.Duration
	TelemetryTimeout time.Duration
}

// DefaultClientConfig returns a client configuration with sensible defaults.
// Both timeouts are shorter than typical device-side request timeouts so the
// gateway fails fast instead of stacking up blocked handlers.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		AdminTimeout:     10 * time.Second,
		TelemetryTimeout: 5 * time.Second,
	}
}

// NewClient creates a new platform client
func NewClient(cfg *ClientConfig, logger *logrus.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("client config is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	adminTimeout := cfg.AdminTimeout
	if adminTimeout <= 0 {
		adminTimeout = DefaultClientConfig().AdminTimeout
	}
	telemetryTimeout := cfg.TelemetryTimeout
	if telemetryTimeout <= 0 {
		telemetryTimeout = DefaultClientConfig().TelemetryTimeout
	}

	// Per-call deadlines come from request contexts; the transport settings
	// keep connection setup from eating into them.
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	return &Client{
		httpClient:       httpClient,
		baseURL:          strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:           logger,
		adminTimeout:     adminTimeout,
		telemetryTimeout: telemetryTimeout,
	}, nil
}

// do performs a single request against the platform and classifies the
// outcome. The request path may embed a device credential, so neither the
// URL nor the raw transport error (which carries the URL) is ever logged or
// wrapped; only op names appear in diagnostics.
func (c *Client) do(ctx context.Context, op, method, path, bearer string, body interface{}, timeout time.Duration) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		httpReq.Header.Set("X-Authorization", "Bearer "+bearer)
	}

	c.logger.WithFields(logrus.Fields{
		"op":     op,
		"method": method,
	}).Debug("Platform request")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindTransport, Err: stripURL(err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindTransport, Err: stripURL(err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &Error{
			Op:     op,
			Kind:   KindRejected,
			Status: httpResp.StatusCode,
			Body:   truncate(respBody, maxErrorBody),
		}
	}

	return respBody, nil
}

// decode parses a JSON response body, classifying failures as malformed
func decode(op string, body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &Error{Op: op, Kind: KindMalformed, Err: err}
	}
	return nil
}

// stripURL unwraps url.Error so the request URL never leaks into logs or
// wrapped errors
func stripURL(err error) error {
	if urlErr, ok := err.(*url.Error); ok && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}

// truncate bounds a response body for diagnostic use
func truncate(body []byte, max int) string {
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// Close releases idle connections held by the client
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
