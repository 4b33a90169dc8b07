package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Username = "tenant@example.com"
	cfg.Password = "secret"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://thingsboard.cloud", cfg.PlatformURL)
	assert.Equal(t, 5000, cfg.ListenPort)
	assert.Equal(t, StoreBackendFile, cfg.StoreBackend)
	assert.Equal(t, "device_mapping.json", cfg.MappingPath)
	assert.Equal(t, "device_mapping.csv", cfg.MappingMirrorPath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "missing platform URL",
			modify:  func(c *Config) { c.PlatformURL = "" },
			wantErr: "platform_url is required",
		},
		{
			name:    "missing username",
			modify:  func(c *Config) { c.Username = "" },
			wantErr: "platform account credentials are required",
		},
		{
			name:    "missing password",
			modify:  func(c *Config) { c.Password = "" },
			wantErr: "platform account credentials are required",
		},
		{
			name:    "invalid port",
			modify:  func(c *Config) { c.ListenPort = 0 },
			wantErr: "listen_port must be between",
		},
		{
			name:    "invalid store backend",
			modify:  func(c *Config) { c.StoreBackend = "postgres" },
			wantErr: "store_backend must be one of",
		},
		{
			name: "file backend without mapping path",
			modify: func(c *Config) {
				c.StoreBackend = StoreBackendFile
				c.MappingPath = ""
			},
			wantErr: "mapping_path is required",
		},
		{
			name: "sqlite backend without database path",
			modify: func(c *Config) {
				c.StoreBackend = StoreBackendSQLite
				c.DatabasePath = ""
			},
			wantErr: "database_path is required",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "trace" },
			wantErr: "log_level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TB_USERNAME", "tenant@example.com")
	t.Setenv("TB_PASSWORD", "env-secret")
	t.Setenv("TB_PLATFORM_URL", "https://tb.staging.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tenant@example.com", cfg.Username)
	assert.Equal(t, "env-secret", cfg.Password)
	assert.Equal(t, "https://tb.staging.example.com", cfg.PlatformURL)
	assert.Equal(t, 5000, cfg.ListenPort)
}

func TestLoadMissingCredentialsFails(t *testing.T) {
	t.Setenv("TB_USERNAME", "")
	t.Setenv("TB_PASSWORD", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials are required")
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("TB_USERNAME", "")
	t.Setenv("TB_PASSWORD", "")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := []byte(`platform_url: https://tb.internal.example.com
username: file-user
password: file-pass
listen_port: 9000
store_backend: sqlite
database_path: /var/lib/gateway/gateway.db
log_level: debug
`)
	require.NoError(t, os.WriteFile(configPath, content, 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "https://tb.internal.example.com", cfg.PlatformURL)
	assert.Equal(t, "file-user", cfg.Username)
	assert.Equal(t, 9000, cfg.ListenPort)
	assert.Equal(t, StoreBackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = 5000

	assert.Equal(t, "127.0.0.1:5000", cfg.ListenAddr())
}
