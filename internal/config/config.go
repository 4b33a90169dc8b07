package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the gateway configuration
type Config struct {
	// Remote platform configuration
	PlatformURL string `mapstructure:"platform_url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`

	// HTTP server configuration
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`

	// Mapping store configuration
	StoreBackend      string `mapstructure:"store_backend"` // file, sqlite
	MappingPath       string `mapstructure:"mapping_path"`
	MappingMirrorPath string `mapstructure:"mapping_mirror_path"`
	DatabasePath      string `mapstructure:"database_path"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// Store backend constants
const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
)

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		PlatformURL:       "https://thingsboard.cloud",
		ListenHost:        "0.0.0.0",
		ListenPort:        5000,
		StoreBackend:      StoreBackendFile,
		MappingPath:       "device_mapping.json",
		MappingMirrorPath: "device_mapping.csv",
		DatabasePath:      "gateway.db",
		LogLevel:          "info",
		LogFile:           "",
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up viper
	v := viper.New()

	// Set default values
	setDefaults(v, cfg)

	// Configure file locations
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// Look for config in current directory and common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/smartcity-gateway")

		// Add user config directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".smartcity-gateway"))
		}
	}

	// Environment variable configuration. The TB_ prefix keeps the
	// TB_USERNAME / TB_PASSWORD contract the device teams already rely on.
	v.SetEnvPrefix("TB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("platform_url", cfg.PlatformURL)
	v.SetDefault("username", cfg.Username)
	v.SetDefault("password", cfg.Password)
	v.SetDefault("listen_host", cfg.ListenHost)
	v.SetDefault("listen_port", cfg.ListenPort)
	v.SetDefault("store_backend", cfg.StoreBackend)
	v.SetDefault("mapping_path", cfg.MappingPath)
	v.SetDefault("mapping_mirror_path", cfg.MappingMirrorPath)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.PlatformURL == "" {
		return fmt.Errorf("platform_url is required")
	}

	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("platform account credentials are required: set TB_USERNAME and TB_PASSWORD")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be between 1 and 65535")
	}

	if c.StoreBackend != StoreBackendFile && c.StoreBackend != StoreBackendSQLite {
		return fmt.Errorf("store_backend must be one of: file, sqlite")
	}

	if c.StoreBackend == StoreBackendFile && c.MappingPath == "" {
		return fmt.Errorf("mapping_path is required for the file store backend")
	}

	if c.StoreBackend == StoreBackendSQLite && c.DatabasePath == "" {
		return fmt.Errorf("database_path is required for the sqlite store backend")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// ListenAddr returns the host:port address the HTTP server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}
