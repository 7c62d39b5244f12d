package coordinator

import (
	"context"
	"sort"
)

// Snapshot is a point-in-time view of the routing state, built inside the
// control loop so no map is ever read concurrently with a write.
type Snapshot struct {
	Assignments map[string]int `json:"assignments"`  // site -> worker id
	IdleWorkers []int          `json:"idle_workers"` // sorted
	Backlog     map[string]int `json:"backlog"`      // site -> queued tasks
	QueuedTotal int            `json:"queued_total"`
}

// Snapshot requests a state snapshot through the ingress channel and waits
// for the loop to answer.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)

	select {
	case c.ingress <- message{snapshot: reply}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Coordinator) buildSnapshot() Snapshot {
	snap := Snapshot{
		Assignments: make(map[string]int, len(c.assignments)),
		IdleWorkers: make([]int, 0, len(c.idle)),
		Backlog:     make(map[string]int, len(c.backlog)),
	}

	for site, id := range c.assignments {
		snap.Assignments[site] = id
	}
	for id := range c.idle {
		snap.IdleWorkers = append(snap.IdleWorkers, id)
	}
	sort.Ints(snap.IdleWorkers)
	for site, entries := range c.backlog {
		if len(entries) == 0 {
			continue
		}
		snap.Backlog[site] = len(entries)
		snap.QueuedTotal += len(entries)
	}

	return snap
}
