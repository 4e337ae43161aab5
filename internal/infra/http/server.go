// Package http serves the operational endpoints of the service: liveness,
// readiness and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/openctemio/qualitygate/internal/config"
	"github.com/openctemio/qualitygate/internal/infra/http/middleware"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// Server is the ops HTTP server.
type Server struct {
	httpServer *http.Server
	router     Router
	config     *config.OpsConfig
	logger     *logger.Logger
	production bool
}

// ServerOption is a function that configures the server.
type ServerOption func(*Server)

// WithRouter sets a custom router implementation.
func WithRouter(r Router) ServerOption {
	return func(s *Server) {
		s.router = r
	}
}

// WithProduction omits stack traces from recovered panics.
func WithProduction(production bool) ServerOption {
	return func(s *Server) {
		s.production = production
	}
}

// NewServer creates a new ops server. Routes are registered through Router.
func NewServer(cfg *config.OpsConfig, log *logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config: cfg,
		logger: log.With("component", "ops-server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.router == nil {
		s.router = NewChiRouter()
	}

	// Order matters.
	s.router.Use(
		middleware.RecoveryWithConfig(s.logger, s.production),
		middleware.RequestID(),
		middleware.Metrics(),
		middleware.Logger(s.logger),
	)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return s
}

// Router returns the router for registering handlers.
func (s *Server) Router() Router {
	return s.router
}

// Start listens and serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting ops server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start ops server: %w", err)
	}
	return nil
}

// Serve serves on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ops server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown ops server: %w", err)
	}

	s.logger.Info("ops server stopped")
	return nil
}
