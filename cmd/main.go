package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"smartcity-gateway/internal/api"
	"smartcity-gateway/internal/config"
	"smartcity-gateway/internal/logging"
	"smartcity-gateway/internal/platform"
	"smartcity-gateway/internal/provision"
	"smartcity-gateway/internal/store"
	"smartcity-gateway/internal/token"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "smartcity-gateway",
	Short: "Smart City Telemetry Gateway - Relay device readings to the IoT platform",
	Long: `A telemetry relay that accepts readings tagged with a logical project
identifier, provisions a backing device on the remote IoT platform the first
time an identifier is seen, and forwards readings using the cached device
credential. The identifier-to-credential mapping is persisted locally so
devices survive gateway restarts.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// gateway bundles the wired core components shared by all commands
type gateway struct {
	cfg         *config.Config
	logger      *logrus.Logger
	store       store.Store
	client      *platform.Client
	tokens      *token.Cache
	provisioner *provision.Provisioner
	closers     []func() error
}

// buildGateway loads configuration and wires the core components
func buildGateway() (*gateway, error) {
	logger := logging.Initialize(logLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
		logger.WithError(err).Warn("Failed to set up file logging, continuing with stdout only")
	}

	g := &gateway{cfg: cfg, logger: logger}

	g.store, err = newMappingStore(cfg, logger, g)
	if err != nil {
		return nil, err
	}

	clientCfg := platform.DefaultClientConfig()
	clientCfg.BaseURL = cfg.PlatformURL
	g.client, err = platform.NewClient(clientCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}
	g.closers = append(g.closers, g.client.Close)

	g.tokens, err = token.NewCache(g.client, cfg.Username, cfg.Password, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}

	g.provisioner, err = provision.NewProvisioner(g.store, g.tokens, g.client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create provisioner: %w", err)
	}

	return g, nil
}

// newMappingStore builds the configured mapping store backend
func newMappingStore(cfg *config.Config, logger *logrus.Logger, g *gateway) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendSQLite:
		s, err := store.NewSQLiteStore(cfg.DatabasePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		g.closers = append(g.closers, s.Close)
		return s, nil
	default:
		s, err := store.NewFileStore(cfg.MappingPath, cfg.MappingMirrorPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file store: %w", err)
		}
		return s, nil
	}
}

// close releases resources held by the gateway components
func (g *gateway) close() {
	for _, closeFn := range g.closers {
		if err := closeFn(); err != nil {
			g.logger.WithError(err).Warn("Failed to close component")
		}
	}
}

// runServer runs the gateway HTTP server until interrupted
func runServer() {
	g, err := buildGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer g.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Prefetch the platform token so the first reading does not pay for a
	// login. Best-effort: failures are retried on demand.
	if _, err := g.tokens.Token(ctx); err != nil {
		g.logger.WithError(err).Warn("Platform token not obtained at startup, provisioning will retry")
	}

	server := api.NewServer(g.cfg, g.logger, g.provisioner, g.client, g.tokens, version)
	g.provisioner.OnProvision = func(projectID string) {
		server.ActivityFeed().Publish(api.ActivityEvent{
			Type:      api.EventDeviceProvisioned,
			ProjectID: projectID,
		})
	}

	g.logger.WithFields(logrus.Fields{
		"version":  version,
		"addr":     g.cfg.ListenAddr(),
		"platform": g.cfg.PlatformURL,
		"backend":  g.cfg.StoreBackend,
	}).Info("Smart city gateway starting")

	if err := server.Start(ctx); err != nil {
		g.logger.WithError(err).Error("Gateway server failed")
		os.Exit(1)
	}

	g.logger.Info("Gateway stopped")
}
