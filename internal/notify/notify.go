// Package notify fans user notifications out to the configured backends.
// Each backend is an independent capability: one failing or slow backend
// never blocks or fails the others, and no notification failure ever
// escalates into a scheduling failure.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"github.com/storyfetch/storyfetch/internal/metrics"
)

// Notifier is one delivery backend.
type Notifier interface {
	Name() string
	Send(ctx context.Context, title, body, site string) error
}

// Dispatcher fans a notification out to all backends concurrently, each
// wrapped in a bounded retry loop.
type Dispatcher struct {
	backends []Notifier
	logger   *slog.Logger

	// Per-send retry policy, visible here rather than hidden in the
	// backends so it is testable independently of them.
	attempts uint
	delay    time.Duration

	wg sync.WaitGroup
}

// Config configures a dispatcher.
type Config struct {
	Backends []Notifier
	Logger   *slog.Logger

	// Attempts per backend per notification (default 3).
	Attempts uint

	// Delay between attempts (default 2s).
	Delay time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	return &Dispatcher{
		backends: cfg.Backends,
		logger:   logger.With("component", "notify"),
		attempts: attempts,
		delay:    delay,
	}
}

// Backends returns the number of configured backends.
func (d *Dispatcher) Backends() int {
	return len(d.backends)
}

// Notify delivers asynchronously to every backend and returns immediately.
// Failures are logged and counted, nothing more.
func (d *Dispatcher) Notify(ctx context.Context, title, body, site string) {
	for _, backend := range d.backends {
		b := backend
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.sendWithRetry(ctx, b, title, body, site); err != nil {
				metrics.NotifyFailed(b.Name())
				d.logger.Warn("notification failed",
					"backend", b.Name(),
					"title", title,
					"site", site,
					"error", err,
				)
				return
			}
			d.logger.Debug("notification sent", "backend", b.Name(), "title", title, "site", site)
		}()
	}
}

// sendWithRetry is the explicit bounded-retry wrapper around one backend
// send: attempt cap and fixed backoff, nothing implicit.
func (d *Dispatcher) sendWithRetry(ctx context.Context, b Notifier, title, body, site string) error {
	return retrygo.Do(
		func() error { return b.Send(ctx, title, body, site) },
		retrygo.Context(ctx),
		retrygo.Attempts(d.attempts),
		retrygo.Delay(d.delay),
		retrygo.DelayType(retrygo.FixedDelay),
		retrygo.LastErrorOnly(true),
	)
}

// Wait blocks until all in-flight notifications have finished. Called on
// shutdown so pending sends aren't cut off mid-flight.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
