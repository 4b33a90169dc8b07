// Package provision coordinates lazy device provisioning against the
// remote platform.
package provision

import (
	"context"
	"fmt"
	"sync"

	"smartcity-gateway/internal/store"

	"github.com/sirupsen/logrus"
)

// TokenSource supplies a valid platform bearer token
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// PlatformClient performs the remote device calls
type PlatformClient interface {
	CreateDevice(ctx context.Context, bearer, projectID string) (string, error)
	DeviceCredentials(ctx context.Context, bearer, deviceID string) (string, error)
}

// Provisioner returns the device credential for a project identifier,
// creating and persisting a new platform device exactly once per identifier.
//
// One mutex covers the whole load-check-create-save sequence, serializing
// provisioning across all identifiers. Provisioning happens once per new
// identifier and never on the steady-state path, so the coarse lock buys a
// trivially correct at-most-one-device guarantee for negligible throughput
// cost.
type Provisioner struct {
	store  store.Store
	tokens TokenSource
	client PlatformClient
	logger *logrus.Logger

	// OnProvision, when set, is called after a device has been created
	// and persisted. Used for the activity feed; must not block.
	OnProvision func(projectID string)

	mu sync.Mutex
}

// NewProvisioner creates a provisioner
func NewProvisioner(mappingStore store.Store, tokens TokenSource, client PlatformClient, logger *logrus.Logger) (*Provisioner, error) {
	if mappingStore == nil {
		return nil, fmt.Errorf("mapping store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if client == nil {
		return nil, fmt.Errorf("platform client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Provisioner{
		store:  mappingStore,
		tokens: tokens,
		client: client,
		logger: logger,
	}, nil
}

// GetOrProvision returns the credential for a project identifier, creating
// the backing device on first sight. Any remote failure aborts the whole
// operation with nothing persisted; a later call for the same identifier
// attempts creation again.
func (p *Provisioner) GetOrProvision(ctx context.Context, projectID string) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("project id is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// The store is the source of truth; re-load on every call rather than
	// trusting a mapping held across calls.
	mapping := p.store.Load()

	if credential, ok := mapping.Get(projectID); ok {
		p.logger.WithField("project_id", projectID).Debug("Existing device reused")
		return credential, nil
	}

	p.logger.WithField("project_id", projectID).Info("New project, provisioning device")

	bearer, err := p.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("provisioning %q: %w", projectID, err)
	}

	deviceID, err := p.client.CreateDevice(ctx, bearer, projectID)
	if err != nil {
		return "", fmt.Errorf("provisioning %q: %w", projectID, err)
	}

	credential, err := p.client.DeviceCredentials(ctx, bearer, deviceID)
	if err != nil {
		return "", fmt.Errorf("provisioning %q: %w", projectID, err)
	}

	mapping.Put(projectID, credential)
	if err := p.store.Save(mapping); err != nil {
		// Best-effort persistence: the caller still gets the credential,
		// at worst the device is re-provisioned after a restart.
		p.logger.WithError(err).WithField("project_id", projectID).Error("Failed to persist device mapping")
	}

	p.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"device_id":  deviceID,
	}).Info("Device provisioned")

	if p.OnProvision != nil {
		p.OnProvision(projectID)
	}

	return credential, nil
}

// ProjectIDs lists the provisioned project identifiers in insertion order
func (p *Provisioner) ProjectIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.store.Load().ProjectIDs()
}

// DeviceCount returns the number of provisioned devices
func (p *Provisioner) DeviceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.store.Load().Len()
}
