package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/storyfetch/storyfetch/internal/coordinator"
	"github.com/storyfetch/storyfetch/internal/delay"
	"github.com/storyfetch/storyfetch/internal/retry"
	"github.com/storyfetch/storyfetch/internal/task"
)

// flakyExecutor fails each URL a fixed number of times, then succeeds. It
// also tracks per-site concurrency so the scheduler's exclusivity can be
// checked end to end.
type flakyExecutor struct {
	mu          sync.Mutex
	failures    map[string]int
	executions  []execRecord
	inFlight    map[string]int
	maxInFlight map[string]int
}

type execRecord struct {
	url      string
	attempts int
}

func newFlakyExecutor(failures map[string]int) *flakyExecutor {
	return &flakyExecutor{
		failures:    failures,
		inFlight:    make(map[string]int),
		maxInFlight: make(map[string]int),
	}
}

func (e *flakyExecutor) Execute(ctx context.Context, t *task.Task) error {
	e.mu.Lock()
	e.executions = append(e.executions, execRecord{url: t.URL, attempts: t.Attempts})
	e.inFlight[t.Site]++
	if e.inFlight[t.Site] > e.maxInFlight[t.Site] {
		e.maxInFlight[t.Site] = e.inFlight[t.Site]
	}
	fail := e.failures[t.URL] > 0
	if fail {
		e.failures[t.URL]--
	}
	e.mu.Unlock()

	time.Sleep(5 * time.Millisecond) // hold the site long enough for overlap to show

	e.mu.Lock()
	e.inFlight[t.Site]--
	e.mu.Unlock()

	if fail {
		return errors.New("site returned an error page")
	}
	t.Title = "Story " + t.URL
	return nil
}

func (e *flakyExecutor) records() []execRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]execRecord, len(e.executions))
	copy(out, e.executions)
	return out
}

// TestPipelineRetriesAndCompletes runs the real coordinator, delay queue,
// and worker pool together: a failing download is re-delivered with its
// attempt count advanced, and same-site tasks never overlap.
func TestPipelineRetriesAndCompletes(t *testing.T) {
	exec := newFlakyExecutor(map[string]int{"u1": 1})

	coord := coordinator.New(coordinator.Config{})
	queue := delay.New(delay.Config{Ingress: coord, PollInterval: 10 * time.Millisecond})

	policy := retry.NewPolicyWithRand(
		retry.Config{MaxNormalRetries: 11, Unit: time.Millisecond},
		rand.New(rand.NewSource(42)),
	)
	pool, err := New(Config{
		Workers:  2,
		Executor: exec,
		Idle:     coord,
		Delayer:  queue,
		Policy:   policy,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < pool.Size(); i++ {
		coord.RegisterWorker(i, pool.Channel(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)
	go queue.Run(ctx)
	go pool.Run(ctx)

	// u1 fails once and is retried; the rest of the ao3 queue and the
	// ffnet task proceed around it.
	for _, tk := range []*task.Task{
		task.New("ao3", "u1"),
		task.New("ao3", "u2"),
		task.New("ffnet", "u3"),
	} {
		tk.MaxAttempts = 11
		if err := coord.Enqueue(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		recs := exec.records()
		if len(recs) >= 4 { // u1 twice, u2 and u3 once
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pipeline stalled, executions = %v", recs)
		case <-time.After(10 * time.Millisecond):
		}
	}

	var u1Attempts []int
	for _, r := range exec.records() {
		if r.url == "u1" {
			u1Attempts = append(u1Attempts, r.attempts)
		}
	}
	if len(u1Attempts) != 2 || u1Attempts[0] != 0 || u1Attempts[1] != 1 {
		t.Errorf("u1 attempt counts = %v, want [0 1]", u1Attempts)
	}

	exec.mu.Lock()
	for site, max := range exec.maxInFlight {
		if max > 1 {
			t.Errorf("site %s ran %d downloads concurrently", site, max)
		}
	}
	exec.mu.Unlock()

	// Once everything drains the coordinator should show both workers idle
	// and nothing assigned or queued.
	var snap coordinator.Snapshot
	settle := time.After(2 * time.Second)
	for {
		var err error
		snap, err = coord.Snapshot(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(snap.Assignments) == 0 && snap.QueuedTotal == 0 && len(snap.IdleWorkers) == 2 {
			break
		}
		select {
		case <-settle:
			t.Fatalf("scheduler did not settle: %+v", snap)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
