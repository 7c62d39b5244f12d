// Package delay holds tasks aside for a computed wait and then feeds them
// back into the coordinator ingress. Delays run independently; nothing is
// ever withdrawn mid-wait (a stale pending timer for an already-finished
// task is harmless: the re-injected task simply runs its next attempt).
package delay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/storyfetch/storyfetch/internal/task"
)

// Ingress is where expired tasks go. Satisfied by *coordinator.Coordinator.
type Ingress interface {
	Enqueue(ctx context.Context, t *task.Task) error
}

// pending is a task waiting for its due time.
type pending struct {
	due time.Time
	seq uint64
	t   *task.Task
}

// Queue re-injects tasks after their delay. Delay granularity is
// minutes-scale, so the drain loop polls at a fixed seconds-scale interval
// instead of arming one timer per task; a wake channel avoids waiting a
// full interval for work scheduled to run immediately.
type Queue struct {
	ingress Ingress
	logger  *slog.Logger
	poll    time.Duration
	now     func() time.Time

	mu    sync.Mutex
	items []pending
	seq   uint64
	wake  chan struct{}
}

// Config configures a delay queue.
type Config struct {
	Ingress Ingress
	Logger  *slog.Logger

	// PollInterval between drain checks (default 5s).
	PollInterval time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a delay queue.
func New(cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Queue{
		ingress: cfg.Ingress,
		logger:  logger.With("component", "delay"),
		poll:    poll,
		now:     now,
		wake:    make(chan struct{}, 1),
	}
}

// Schedule queues a task to re-enter the pipeline after d. A zero or
// negative delay delivers on the next drain pass.
func (q *Queue) Schedule(t *task.Task, d time.Duration) {
	q.mu.Lock()
	q.seq++
	q.items = append(q.items, pending{due: q.now().Add(d), seq: q.seq, t: t})
	q.mu.Unlock()

	q.logger.Debug("task delayed", "site", t.Site, "url", t.URL, "delay", d, "attempts", t.Attempts)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of tasks still waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run drains due tasks until ctx is cancelled. Call in a goroutine.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("delay queue started", "poll", q.poll)

	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		q.dispatch(ctx)

		select {
		case <-ctx.Done():
			q.logger.Info("delay queue stopping", "pending", q.Len())
			return ctx.Err()
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

// dispatch re-injects every due task, oldest first.
func (q *Queue) dispatch(ctx context.Context) {
	now := q.now()

	q.mu.Lock()
	var due, rest []pending
	for _, p := range q.items {
		if !p.due.After(now) {
			due = append(due, p)
		} else {
			rest = append(rest, p)
		}
	}
	q.items = rest
	q.mu.Unlock()

	// Schedule order doubles as delivery order for tasks due in the same
	// pass (seq is assigned monotonically under the lock).
	for i := 1; i < len(due); i++ {
		for j := i; j > 0 && due[j].seq < due[j-1].seq; j-- {
			due[j], due[j-1] = due[j-1], due[j]
		}
	}

	for _, p := range due {
		if err := q.ingress.Enqueue(ctx, p.t); err != nil {
			q.logger.Warn("re-injection failed, task dropped", "url", p.t.URL, "error", err)
			continue
		}
		q.logger.Debug("task re-injected", "site", p.t.Site, "url", p.t.URL, "attempts", p.t.Attempts)
	}
}
