// Package coordinator serializes all task-routing decisions through a single
// control loop. The loop is the only writer of the site-assignment table, the
// idle-worker set, and the per-site backlog, so per-site mutual exclusion
// holds without any locks: correctness comes from single-writer serialization.
package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/storyfetch/storyfetch/internal/metrics"
	"github.com/storyfetch/storyfetch/internal/task"
)

// ErrNotRunning is returned by Snapshot when the loop has already stopped.
var ErrNotRunning = errors.New("coordinator is not running")

// message is the single ingress type. Exactly one field is set.
type message struct {
	task     *task.Task
	idle     *task.IdleSignal
	snapshot chan<- Snapshot
}

// backlogEntry pairs a queued task with its arrival sequence number. The
// sequence gives the cross-site drain scan a deterministic oldest-first
// order instead of map iteration order.
type backlogEntry struct {
	seq uint64
	t   *task.Task
}

// Coordinator owns the routing state. All fields below ingress are touched
// only inside Run.
type Coordinator struct {
	ingress chan message
	logger  *slog.Logger

	workers     map[int]chan<- *task.Task // worker id -> dedicated channel
	assignments map[string]int            // site -> worker id holding it
	idle        map[int]struct{}          // workers with no assignment
	backlog     map[string][]backlogEntry // site -> FIFO of waiting tasks
	seq         uint64                    // arrival stamp for backlog entries
}

// Config configures a coordinator.
type Config struct {
	Logger *slog.Logger

	// IngressSize is the ingress channel buffer (default 256).
	IngressSize int
}

// New creates a coordinator. Workers must be registered before Run.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.IngressSize
	if size <= 0 {
		size = 256
	}

	return &Coordinator{
		ingress:     make(chan message, size),
		logger:      logger.With("component", "coordinator"),
		workers:     make(map[int]chan<- *task.Task),
		assignments: make(map[string]int),
		idle:        make(map[int]struct{}),
		backlog:     make(map[string][]backlogEntry),
	}
}

// RegisterWorker installs a worker's dedicated channel. Every registered
// worker starts in the idle set. Not safe to call once Run has started.
func (c *Coordinator) RegisterWorker(id int, ch chan<- *task.Task) {
	c.workers[id] = ch
	c.idle[id] = struct{}{}
	c.logger.Debug("worker registered", "worker", id)
}

// Enqueue places a task on the ingress channel. It blocks if the ingress
// buffer is full (back-pressure on the producer) unless ctx is done first.
func (c *Coordinator) Enqueue(ctx context.Context, t *task.Task) error {
	select {
	case c.ingress <- message{task: t}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignalIdle tells the coordinator a worker finished its work for a site.
func (c *Coordinator) SignalIdle(ctx context.Context, workerID int, site string) error {
	select {
	case c.ingress <- message{idle: &task.IdleSignal{WorkerID: workerID, Site: site}}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes ingress messages until ctx is cancelled. Call in a goroutine.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started", "workers", len(c.workers))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping")
			return ctx.Err()

		case msg := <-c.ingress:
			switch {
			case msg.task != nil:
				c.route(msg.task)
			case msg.idle != nil:
				c.onIdle(msg.idle.WorkerID, msg.idle.Site)
			case msg.snapshot != nil:
				msg.snapshot <- c.buildSnapshot()
			}
			c.publishGauges()
		}
	}
}

// route assigns a task to a worker, or queues it behind the current holder
// of its site.
func (c *Coordinator) route(t *task.Task) {
	if _, held := c.assignments[t.Site]; held {
		c.pushBacklog(t)
		c.logger.Debug("site busy, task queued", "site", t.Site, "url", t.URL)
		return
	}

	id, ok := c.pickIdleWorker()
	if !ok {
		// All workers busy with distinct sites. The task waits in the
		// backlog until any worker frees up.
		c.pushBacklog(t)
		c.logger.Debug("no idle worker, task queued", "site", t.Site, "url", t.URL)
		return
	}

	c.assign(id, t)
}

// onIdle releases a worker's site and immediately re-feeds it: first from
// the same site's backlog (site stays hot, no window for another worker to
// claim it), otherwise from the oldest waiting site, otherwise the worker
// goes idle.
func (c *Coordinator) onIdle(workerID int, site string) {
	// Only the current holder may release a site. A stale or duplicate
	// signal must not touch the routing state at all: falling through here
	// would hand the site's backlog to a second worker while the true
	// holder still has it.
	holder, held := c.assignments[site]
	if !held || holder != workerID {
		c.logger.Debug("stale idle signal ignored", "worker", workerID, "site", site)
		return
	}
	delete(c.assignments, site)

	if entries := c.backlog[site]; len(entries) > 0 {
		next := c.popBacklog(site)
		c.assign(workerID, next)
		return
	}

	c.idle[workerID] = struct{}{}

	// Drain cross-site backlog so one busy site can't starve the others.
	if waiting, ok := c.oldestWaitingSite(); ok {
		delete(c.idle, workerID)
		c.assign(workerID, c.popBacklog(waiting))
	}
}

// assign installs the site->worker entry and forwards the task.
func (c *Coordinator) assign(workerID int, t *task.Task) {
	c.assignments[t.Site] = workerID

	ch, ok := c.workers[workerID]
	if !ok {
		// Unknown worker id. Put the task back and leave the site free.
		delete(c.assignments, t.Site)
		c.pushBacklogHead(t)
		c.logger.Error("assignment to unregistered worker", "worker", workerID, "site", t.Site)
		return
	}

	select {
	case ch <- t:
		c.logger.Debug("task assigned", "worker", workerID, "site", t.Site, "url", t.URL, "attempts", t.Attempts)
	default:
		// Cannot happen while the one-outstanding-task-per-worker invariant
		// holds (a worker is only handed work after its idle signal). Keep
		// the task at the head of its site's backlog and free the worker
		// so a later event re-drains it.
		delete(c.assignments, t.Site)
		c.pushBacklogHead(t)
		c.idle[workerID] = struct{}{}
		c.logger.Warn("worker channel full, task requeued", "worker", workerID, "site", t.Site)
	}
}

// pickIdleWorker returns the lowest idle worker id, removed from the set.
// Lowest-id keeps assignment order deterministic for tests.
func (c *Coordinator) pickIdleWorker() (int, bool) {
	if len(c.idle) == 0 {
		return 0, false
	}
	best := -1
	for id := range c.idle {
		if best == -1 || id < best {
			best = id
		}
	}
	delete(c.idle, best)
	return best, true
}

// oldestWaitingSite returns the unassigned site whose head task arrived
// first. Deterministic tie-break for the cross-site drain scan.
func (c *Coordinator) oldestWaitingSite() (string, bool) {
	var (
		found   bool
		site    string
		bestSeq uint64
	)
	for s, entries := range c.backlog {
		if len(entries) == 0 {
			continue
		}
		if _, held := c.assignments[s]; held {
			continue
		}
		if !found || entries[0].seq < bestSeq {
			found = true
			site = s
			bestSeq = entries[0].seq
		}
	}
	return site, found
}

func (c *Coordinator) pushBacklog(t *task.Task) {
	c.seq++
	c.backlog[t.Site] = append(c.backlog[t.Site], backlogEntry{seq: c.seq, t: t})
}

// pushBacklogHead re-queues a task in front of its site's backlog,
// preserving FIFO for the tasks behind it.
func (c *Coordinator) pushBacklogHead(t *task.Task) {
	entries := c.backlog[t.Site]
	head := backlogEntry{t: t}
	if len(entries) > 0 {
		head.seq = entries[0].seq // keep drain ordering stable
	} else {
		c.seq++
		head.seq = c.seq
	}
	c.backlog[t.Site] = append([]backlogEntry{head}, entries...)
}

func (c *Coordinator) popBacklog(site string) *task.Task {
	entries := c.backlog[site]
	t := entries[0].t
	if len(entries) == 1 {
		delete(c.backlog, site)
	} else {
		c.backlog[site] = entries[1:]
	}
	return t
}

func (c *Coordinator) publishGauges() {
	depth := 0
	for _, entries := range c.backlog {
		depth += len(entries)
	}
	metrics.SetBacklogDepth(depth)
	metrics.SetIdleWorkers(len(c.idle))
	metrics.SetActiveSites(len(c.assignments))
}
