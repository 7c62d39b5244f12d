// Package server exposes the daemon's HTTP API: health, coordinator
// status, task submission, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storyfetch/storyfetch/internal/coordinator"
	"github.com/storyfetch/storyfetch/internal/task"
)

// StatusProvider reports scheduler state. Satisfied by
// *coordinator.Coordinator.
type StatusProvider interface {
	Snapshot(ctx context.Context) (coordinator.Snapshot, error)
}

// Submitter accepts a new story URL. Satisfied by *ingest.Service.
type Submitter interface {
	Submit(ctx context.Context, url, site string, force bool) (*task.Task, error)
}

// HealthChecker verifies an external collaborator is reachable. Satisfied
// by *calibre.DB.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the storyfetch HTTP server.
type Server struct {
	httpServer *http.Server
	status     StatusProvider
	submit     Submitter
	health     HealthChecker
	logger     *slog.Logger

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Addr is the address to bind to (default: 127.0.0.1:8188)
	Addr string
	// Status provides coordinator snapshots for GET /status
	Status StatusProvider
	// Submit accepts POST /enqueue submissions
	Submit Submitter
	// Health optionally checks the calibre catalog for GET /ready
	Health HealthChecker
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Status == nil {
		return nil, errors.New("server requires a status provider")
	}
	if cfg.Submit == nil {
		return nil, errors.New("server requires a submitter")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8188"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		status: cfg.Status,
		submit: cfg.Submit,
		health: cfg.Health,
		logger: cfg.Logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the route mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Run starts the server and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()
	defer s.setNotRunning()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server stopping")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// metricsHandler serves the Prometheus scrape endpoint.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
