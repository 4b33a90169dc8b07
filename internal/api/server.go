package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"smartcity-gateway/internal/config"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server represents the gateway HTTP server
type Server struct {
	config     *config.Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	handlers   *Handlers
	feed       *ActivityFeed
}

// NewServer creates a new gateway server instance
func NewServer(cfg *config.Config, logger *logrus.Logger, provisioner Provisioner, forwarder TelemetryForwarder, tokens TokenStatus, version string) *Server {
	feed := NewActivityFeed(logger)

	server := &Server{
		config: cfg,
		logger: logger,
		router: mux.NewRouter(),
		feed:   feed,
	}

	server.handlers = NewHandlers(logger, provisioner, forwarder, tokens, feed, version)

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      server.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return server
}

// ActivityFeed returns the server's activity feed hub
func (s *Server) ActivityFeed() *ActivityFeed {
	return s.feed
}

// setupMiddleware configures the middleware chain
func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/telemetry", s.handlers.SubmitTelemetry).Methods(http.MethodPost)
	// Compatibility route for firmware using the short path
	s.router.HandleFunc("/telemetry", s.handlers.SubmitTelemetry).Methods(http.MethodPost)
	s.router.HandleFunc("/api/devices", s.handlers.ListDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handlers.HealthCheck).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events", s.handlers.Events).Methods(http.MethodGet)
}

// Router returns the configured router, exposed for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until the context is cancelled
// or the server fails
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting gateway server")

	s.feed.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Gateway server shutting down")
		return s.Shutdown()
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	return nil
}
