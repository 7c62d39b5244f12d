// Package ingest turns story URLs from external sources into tasks on the
// coordinator ingress. Sources are pluggable; the service normalizes site
// keys and stamps task metadata so the rest of the pipeline never sees a
// raw URL without a site.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/storyfetch/storyfetch/internal/metrics"
	"github.com/storyfetch/storyfetch/internal/task"
)

// Ingress is where new tasks go. Satisfied by *coordinator.Coordinator.
type Ingress interface {
	Enqueue(ctx context.Context, t *task.Task) error
}

// Source produces story URLs. Run blocks until ctx is cancelled, calling
// emit for each URL it harvests.
type Source interface {
	Name() string
	Run(ctx context.Context, emit EmitFunc) error
}

// EmitFunc accepts one harvested URL. force requests a forced re-download.
type EmitFunc func(ctx context.Context, url string, force bool) error

// Service hosts the sources and forwards their URLs as tasks.
type Service struct {
	sources     []Source
	ingress     Ingress
	maxAttempts int
	logger      *slog.Logger
}

// Config configures the ingest service.
type Config struct {
	Sources []Source
	Ingress Ingress

	// MaxAttempts is stamped onto each new task.
	MaxAttempts int

	Logger *slog.Logger
}

// New creates the ingest service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		sources:     cfg.Sources,
		ingress:     cfg.Ingress,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger.With("component", "ingest"),
	}
}

// Submit builds a task for one URL and enqueues it. Site is derived from
// the URL when not given explicitly.
func (s *Service) Submit(ctx context.Context, url, site string, force bool) (*task.Task, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("empty story URL")
	}

	if site == "" {
		site = task.SiteForURL(url)
	}

	t := task.New(site, url)
	t.MaxAttempts = s.maxAttempts
	t.Force = force

	if err := s.ingress.Enqueue(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TaskIngested(t.Site)
	s.logger.Info("task ingested", "site", t.Site, "url", t.URL, "force", force)
	return t, nil
}

// Run starts every source and blocks until ctx is cancelled. A source
// returning early is logged; the service itself only exits with ctx, so
// the supervisor's fail-fast applies to the service, not a single source.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("ingest service started", "sources", len(s.sources))

	emit := func(ctx context.Context, url string, force bool) error {
		_, err := s.Submit(ctx, url, "", force)
		return err
	}

	for _, src := range s.sources {
		src := src
		go func() {
			if err := src.Run(ctx, emit); err != nil && ctx.Err() == nil {
				s.logger.Warn("ingest source stopped", "source", src.Name(), "error", err)
			}
		}()
	}

	<-ctx.Done()
	s.logger.Info("ingest service stopping")
	return ctx.Err()
}
