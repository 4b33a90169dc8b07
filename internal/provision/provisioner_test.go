package provision

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"smartcity-gateway/internal/logging"
	"smartcity-gateway/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory Store for tests, round-tripping through JSON
// the way the file store does
type memoryStore struct {
	mu      sync.Mutex
	mapping *store.Mapping
	saves   int
	saveErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{mapping: store.NewMapping()}
}

func (s *memoryStore) Load() *store.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := store.NewMapping()
	for _, projectID := range s.mapping.ProjectIDs() {
		credential, _ := s.mapping.Get(projectID)
		loaded.Put(projectID, credential)
	}
	return loaded
}

func (s *memoryStore) Save(m *store.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}

	saved := store.NewMapping()
	for _, projectID := range m.ProjectIDs() {
		credential, _ := m.Get(projectID)
		saved.Put(projectID, credential)
	}
	s.mapping = saved
	return nil
}

type staticTokens struct {
	err error
}

func (s *staticTokens) Token(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "jwt-token", nil
}

type fakePlatform struct {
	createCalls     int32
	credentialCalls int32
	createErr       error
	credentialsErr  error
}

func (f *fakePlatform) CreateDevice(ctx context.Context, bearer, projectID string) (string, error) {
	atomic.AddInt32(&f.createCalls, 1)
	if f.createErr != nil {
		return "", f.createErr
	}
	return "device-" + projectID, nil
}

func (f *fakePlatform) DeviceCredentials(ctx context.Context, bearer, deviceID string) (string, error) {
	atomic.AddInt32(&f.credentialCalls, 1)
	if f.credentialsErr != nil {
		return "", f.credentialsErr
	}
	return "cred-" + deviceID, nil
}

func newTestProvisioner(t *testing.T, s store.Store, tokens TokenSource, client PlatformClient) *Provisioner {
	t.Helper()

	p, err := NewProvisioner(s, tokens, client, logging.Initialize("error"))
	require.NoError(t, err)
	return p
}

func TestNewProvisionerValidation(t *testing.T) {
	logger := logging.Initialize("error")
	s := newMemoryStore()
	tokens := &staticTokens{}
	client := &fakePlatform{}

	_, err := NewProvisioner(nil, tokens, client, logger)
	assert.Error(t, err)

	_, err = NewProvisioner(s, nil, client, logger)
	assert.Error(t, err)

	_, err = NewProvisioner(s, tokens, nil, logger)
	assert.Error(t, err)

	_, err = NewProvisioner(s, tokens, client, nil)
	assert.Error(t, err)
}

func TestGetOrProvisionNewProject(t *testing.T) {
	s := newMemoryStore()
	client := &fakePlatform{}
	p := newTestProvisioner(t, s, &staticTokens{}, client)

	credential, err := p.GetOrProvision(context.Background(), "park-42")
	require.NoError(t, err)
	assert.Equal(t, "cred-device-park-42", credential)
	assert.Equal(t, int32(1), client.createCalls)

	persisted, ok := s.Load().Get("park-42")
	require.True(t, ok)
	assert.Equal(t, credential, persisted)
}

func TestGetOrProvisionIdempotent(t *testing.T) {
	s := newMemoryStore()
	client := &fakePlatform{}
	p := newTestProvisioner(t, s, &staticTokens{}, client)

	first, err := p.GetOrProvision(context.Background(), "park-42")
	require.NoError(t, err)

	second, err := p.GetOrProvision(context.Background(), "park-42")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), client.createCalls, "second call must make zero remote calls")
	assert.Equal(t, int32(1), client.credentialCalls)
}

func TestGetOrProvisionConcurrentSameProject(t *testing.T) {
	s := newMemoryStore()
	client := &fakePlatform{}
	p := newTestProvisioner(t, s, &staticTokens{}, client)

	const workers = 25
	var wg sync.WaitGroup
	credentials := make([]string, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			credentials[i], errs[i] = p.GetOrProvision(context.Background(), "park-42")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, credentials[0], credentials[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.createCalls), "exactly one device created")
}

func TestGetOrProvisionDistinctProjects(t *testing.T) {
	s := newMemoryStore()
	client := &fakePlatform{}
	p := newTestProvisioner(t, s, &staticTokens{}, client)

	credA, err := p.GetOrProvision(context.Background(), "park-42")
	require.NoError(t, err)

	credB, err := p.GetOrProvision(context.Background(), "bridge-7")
	require.NoError(t, err)

	assert.NotEqual(t, credA, credB)
	assert.Equal(t, int32(2), client.createCalls)

	// Each identifier keeps its own credential
	persistedA, _ := s.Load().Get("park-42")
	persistedB, _ := s.Load().Get("bridge-7")
	assert.Equal(t, credA, persistedA)
	assert.Equal(t, credB, persistedB)
}

func TestGetOrProvisionEmptyProjectID(t *testing.T) {
	s := newMemoryStore()
	client := &fakePlatform{}
	p := newTestProvisioner(t, s, &staticTokens{}, client)

	_, err := p.GetOrProvision(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, int32(0), client.createCalls)
}

func TestGetOrProvisionTokenFailure(t *testing.T) {
	s := newMemoryStore()
	client := &fakePlatform{}
	p := newTestProvisioner(t, s, &staticTokens{err: fmt.Errorf("login failed")}, client)

	_, err := p.GetOrProvision(context.Background(), "park-42")
	require.Error(t, err)
	assert.Equal(t, int32(0), client.createCalls)
	assert.Equal(t, 0, s.Load().Len())
}

func TestGetOrProvisionCreateFailureLeavesNothingPersisted(t *testing.T) {
	s := newMemoryStore()
	client := &fakePlatform{createErr: fmt.Errorf("network timeout")}
	p := newTestProvisioner(t, s, &staticTokens{}, client)

	_, err := p.GetOrProvision(context.Background(), "park-42")
	require.Error(t, err)
	assert.Equal(t, 0, s.Load().Len(), "no partial mapping entry on failure")
	assert.Equal(t, 0, s.saves)

	// A retry attempts creation again rather than assuming the device exists
	client.createErr = nil
	credential, err := p.GetOrProvision(context.Background(), "park-42")
	require.NoError(t, err)
	assert.Equal(t, "cred-device-park-42", credential)
	assert.Equal(t, int32(2), client.createCalls)
}

func TestGetOrProvisionCredentialsFailureLeavesNothingPersisted(t *testing.T) {
	s := newMemoryStore()
	client := &fakePlatform{credentialsErr: fmt.Errorf("rejected")}
	p := newTestProvisioner(t, s, &staticTokens{}, client)

	_, err := p.GetOrProvision(context.Background(), "park-42")
	require.Error(t, err)
	assert.Equal(t, 0, s.Load().Len())
}

func TestGetOrProvisionSaveFailureStillReturnsCredential(t *testing.T) {
	s := newMemoryStore()
	s.saveErr = fmt.Errorf("disk full")
	client := &fakePlatform{}
	p := newTestProvisioner(t, s, &staticTokens{}, client)

	credential, err := p.GetOrProvision(context.Background(), "park-42")
	require.NoError(t, err, "save failures degrade gracefully")
	assert.Equal(t, "cred-device-park-42", credential)
}

func TestProjectIDsAndDeviceCount(t *testing.T) {
	s := newMemoryStore()
	client := &fakePlatform{}
	p := newTestProvisioner(t, s, &staticTokens{}, client)

	require.Equal(t, 0, p.DeviceCount())

	_, err := p.GetOrProvision(context.Background(), "park-42")
	require.NoError(t, err)
	_, err = p.GetOrProvision(context.Background(), "bridge-7")
	require.NoError(t, err)

	assert.Equal(t, []string{"park-42", "bridge-7"}, p.ProjectIDs())
	assert.Equal(t, 2, p.DeviceCount())
}
