// Package worker runs the pool of execution units that pull tasks from
// their coordinator-installed channels, invoke the download executor, and
// feed failures back through the retry policy and delay queue. A pool
// supervisor polls worker liveness and restarts any unit that dies, bound
// to the same worker id and channel, so the coordinator's assignment state
// survives a crash untouched.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storyfetch/storyfetch/internal/metrics"
	"github.com/storyfetch/storyfetch/internal/retry"
	"github.com/storyfetch/storyfetch/internal/task"
)

// Executor performs one download attempt. Implementations may mutate the
// task in place (resolved title, catalog id). Returning an error marks the
// attempt failed; wrapping retry.ErrForceNotAllowed marks it as the
// forced-update conflict.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) error
}

// IdleReporter receives a worker's idle signal after each finished task.
// Satisfied by *coordinator.Coordinator.
type IdleReporter interface {
	SignalIdle(ctx context.Context, workerID int, site string) error
}

// Delayer reschedules a task after a wait. Satisfied by *delay.Queue.
type Delayer interface {
	Schedule(t *task.Task, d time.Duration)
}

// Notifier delivers a fire-and-forget user notification. Failures inside
// the notifier must never surface as scheduling failures.
type Notifier interface {
	Notify(ctx context.Context, title, body, site string)
}

// workerState is the identity a worker keeps across restarts: its id and
// its channel. The flags tell the supervisor whether an exit was a
// cooperative stop or a crash.
type workerState struct {
	id      int
	ch      chan *task.Task
	running atomic.Bool
	stopped atomic.Bool // exited via stop sentinel or shutdown
}

// Pool owns the worker goroutines and their supervisor loop.
type Pool struct {
	executor Executor
	idle     IdleReporter
	delayer  Delayer
	notifier Notifier
	policy   *retry.Policy
	logger   *slog.Logger

	states  []*workerState
	monitor time.Duration
	grace   time.Duration

	wg sync.WaitGroup
}

// Config configures a pool.
type Config struct {
	// Workers is the number of execution units (default 4).
	Workers int

	// ChannelSize buffers each worker channel so a routing decision never
	// blocks on a busy worker (default 2; at most one task is ever
	// outstanding per channel while the coordinator invariants hold).
	ChannelSize int

	Executor Executor
	Idle     IdleReporter
	Delayer  Delayer
	Notifier Notifier
	Policy   *retry.Policy
	Logger   *slog.Logger

	// MonitorInterval between liveness checks (default 250ms).
	MonitorInterval time.Duration

	// ShutdownGrace bounds the wait for workers to drain on stop
	// (default 10s).
	ShutdownGrace time.Duration
}

// New creates a pool. Channels exist immediately so they can be registered
// with the coordinator before anything runs.
func New(cfg Config) (*Pool, error) {
	if cfg.Executor == nil {
		return nil, errors.New("worker pool requires an executor")
	}
	if cfg.Policy == nil {
		return nil, errors.New("worker pool requires a retry policy")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	chanSize := cfg.ChannelSize
	if chanSize <= 0 {
		chanSize = 2
	}
	monitor := cfg.MonitorInterval
	if monitor <= 0 {
		monitor = 250 * time.Millisecond
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	p := &Pool{
		executor: cfg.Executor,
		idle:     cfg.Idle,
		delayer:  cfg.Delayer,
		notifier: cfg.Notifier,
		policy:   cfg.Policy,
		logger:   logger.With("component", "workers"),
		monitor:  monitor,
		grace:    grace,
	}

	for i := 0; i < workers; i++ {
		p.states = append(p.states, &workerState{
			id: i,
			ch: make(chan *task.Task, chanSize),
		})
	}

	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.states)
}

// Channel returns worker id's dedicated channel, for registration with the
// coordinator.
func (p *Pool) Channel(id int) chan *task.Task {
	return p.states[id].ch
}

// Run starts all workers plus the supervisor loop and blocks until ctx is
// cancelled, then performs a cooperative stop: a nil sentinel on each
// channel, bounded by the shutdown grace period.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", "workers", len(p.states))

	for _, ws := range p.states {
		p.startWorker(ctx, ws)
	}

	ticker := time.NewTicker(p.monitor)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.shutdown()

		case <-ticker.C:
			for _, ws := range p.states {
				if ws.running.Load() || ws.stopped.Load() {
					continue
				}
				// Crashed outside the intentional-stop path. Replace it on
				// the same id and channel; the coordinator never notices.
				metrics.WorkerRestarted()
				p.logger.Warn("worker died, restarting", "worker", ws.id)
				p.startWorker(ctx, ws)
			}
		}
	}
}

func (p *Pool) startWorker(ctx context.Context, ws *workerState) {
	ws.running.Store(true)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ws.running.Store(false)
		// A fault in the loop itself (not in the executor, which has its
		// own recovery) ends this goroutine without the stopped flag, so
		// the supervisor's next liveness check restarts the worker.
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker loop fault", "worker", ws.id, "panic", r)
			}
		}()
		p.workerLoop(ctx, ws)
	}()
}

// workerLoop pulls tasks until the stop sentinel (nil) arrives or ctx ends.
func (p *Pool) workerLoop(ctx context.Context, ws *workerState) {
	logger := p.logger.With("worker", ws.id)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			ws.stopped.Store(true)
			logger.Debug("worker stopping")
			return

		case t := <-ws.ch:
			if t == nil {
				ws.stopped.Store(true)
				logger.Debug("worker received stop sentinel")
				return
			}

			p.handle(ctx, logger, t)

			if p.idle != nil {
				if err := p.idle.SignalIdle(ctx, ws.id, t.Site); err != nil {
					logger.Warn("idle signal not delivered", "site", t.Site, "error", err)
				}
			}
		}
	}
}

// handle runs one attempt and routes the outcome. A failure never escapes
// this method: it is converted into a retry decision.
func (p *Pool) handle(ctx context.Context, logger *slog.Logger, t *task.Task) {
	err := p.attempt(ctx, t)
	if err == nil {
		metrics.TaskCompleted(t.Site)
		logger.Info("story updated", "site", t.Site, "url", t.URL, "title", t.Title, "attempts", t.Attempts)
		p.notify(ctx, "Story updated", successBody(t), t.Site)
		return
	}

	metrics.TaskFailed(t.Site)
	logger.Warn("download attempt failed", "site", t.Site, "url", t.URL, "attempts", t.Attempts, "error", err)

	forced := errors.Is(err, retry.ErrForceNotAllowed)
	decision := p.policy.Decide(t, forced)
	t.Attempts++

	switch decision.Action {
	case retry.ActionRetry:
		metrics.RetryScheduled(t.Site)
		logger.Info("retry scheduled", "site", t.Site, "url", t.URL, "delay", decision.Delay, "attempts", t.Attempts)
		p.delayer.Schedule(t, decision.Delay)

	case retry.ActionHailMary:
		t.HailMary = true
		metrics.RetryScheduled(t.Site)
		logger.Info("hail-mary scheduled", "site", t.Site, "url", t.URL, "delay", decision.Delay)
		if decision.Notify {
			p.notify(ctx, "Retries exhausted", decision.Message+"\n"+t.URL, t.Site)
		}
		p.delayer.Schedule(t, decision.Delay)

	case retry.ActionAbandon:
		metrics.TaskAbandoned(t.Site)
		logger.Error("task abandoned", "site", t.Site, "url", t.URL, "attempts", t.Attempts, "error", err)
		if decision.Notify {
			p.notify(ctx, "Update failed", decision.Message+"\n"+t.URL, t.Site)
		}
	}
}

// attempt invokes the executor, converting a panic into an ordinary
// failure so one bad task can't take the worker down.
func (p *Pool) attempt(ctx context.Context, t *task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return p.executor.Execute(ctx, t)
}

func (p *Pool) notify(ctx context.Context, title, body, site string) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(ctx, title, body, site)
}

func successBody(t *task.Task) string {
	if t.Title != "" {
		return t.Title + "\n" + t.URL
	}
	return t.URL
}

// shutdown sends the stop sentinel to every worker and waits up to the
// grace period for them to drain.
func (p *Pool) shutdown() error {
	p.logger.Info("worker pool stopping")

	for _, ws := range p.states {
		select {
		case ws.ch <- nil:
		default:
			// Channel full: the worker is mid-task and will observe ctx
			// cancellation instead.
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("all workers stopped")
		return nil
	case <-time.After(p.grace):
		p.logger.Warn("workers did not drain within grace period")
		return errors.New("worker pool shutdown timed out")
	}
}
