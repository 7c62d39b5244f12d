// Package supervisor hosts the long-running services (ingest, delay queue,
// coordinator, worker pool) inside one lifecycle. A hosted unit that exits
// while the process is supposed to be running forces overall shutdown:
// a dead critical service means the outer process manager should restart
// the whole daemon, not let it limp along partially operating.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Unit is one hosted service. Run must block until ctx is cancelled and
// return ctx.Err() (or nil) on a clean cooperative stop.
type Unit struct {
	Name string
	Run  func(ctx context.Context) error
}

// unitState tracks a running unit for the liveness poll.
type unitState struct {
	unit    Unit
	running atomic.Bool
	err     error // set before running flips false
}

// Supervisor runs units and polls their liveness.
type Supervisor struct {
	units  []*unitState
	logger *slog.Logger
	poll   time.Duration
	grace  time.Duration
}

// Config configures a supervisor.
type Config struct {
	Logger *slog.Logger

	// PollInterval between liveness checks (default 1s).
	PollInterval time.Duration

	// ShutdownGrace bounds the wait for units to stop after cancellation
	// (default 15s).
	ShutdownGrace time.Duration
}

// New creates a supervisor.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}

	return &Supervisor{
		logger: logger.With("component", "supervisor"),
		poll:   poll,
		grace:  grace,
	}
}

// Host registers a unit. Call before Run.
func (s *Supervisor) Host(name string, run func(ctx context.Context) error) {
	s.units = append(s.units, &unitState{unit: Unit{Name: name, Run: run}})
}

// Run starts every unit and blocks until ctx is cancelled or a unit dies.
// A unit death returns an error so the process exits non-zero and its
// process manager restarts it.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, st := range s.units {
		st := st
		st.running.Store(true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.unit.Run(runCtx)
			if err != nil && runCtx.Err() == nil {
				st.err = err
			}
			st.running.Store(false)
		}()
		s.logger.Info("unit started", "unit", st.unit.Name)
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	var failure error
	for failure == nil {
		select {
		case <-ctx.Done():
			s.logger.Info("shutdown signal received")
			return s.stop(cancel, &wg, nil)

		case <-ticker.C:
			for _, st := range s.units {
				if st.running.Load() {
					continue
				}
				failure = fmt.Errorf("unit %s exited unexpectedly: %w", st.unit.Name, unitErr(st))
				s.logger.Error("unit died, forcing shutdown", "unit", st.unit.Name, "error", st.err)
				break
			}
		}
	}

	return s.stop(cancel, &wg, failure)
}

// stop cancels the remaining units and waits up to the grace period.
func (s *Supervisor) stop(cancel context.CancelFunc, wg *sync.WaitGroup, failure error) error {
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all units stopped")
	case <-time.After(s.grace):
		s.logger.Warn("units did not stop within grace period")
		if failure == nil {
			failure = fmt.Errorf("shutdown grace period exceeded")
		}
	}

	return failure
}

func unitErr(st *unitState) error {
	if st.err != nil {
		return st.err
	}
	return fmt.Errorf("no error reported")
}
