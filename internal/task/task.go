// Package task defines the unit of work that flows through the scheduler:
// a single story-download request tied to the site it came from.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Task is one story-download request. It is created by an ingest source,
// routed by the coordinator, and mutated only by the worker that executes
// it (title, attempt count, hail-mary flag).
type Task struct {
	// ID identifies this request across retries.
	ID string

	// Site is the normalized site key. It is the mutual-exclusion unit:
	// the coordinator never lets two workers hold the same site at once.
	Site string

	// URL is the story URL handed to the download tool.
	URL string

	// CalibreID is the catalog record id, if already known. Zero means
	// the executor must look it up (or add a new record).
	CalibreID int

	// Title is filled in by the executor once the download tool reports it.
	Title string

	// Attempts counts observed failures. It is incremented by the worker
	// after each failed execution, never decremented.
	Attempts int

	// MaxAttempts is the normal-retry ceiling for this task.
	MaxAttempts int

	// HailMary is set once the task has been given its final long-delayed
	// attempt, so a further failure abandons it instead of rescheduling.
	HailMary bool

	// Force requests a forced re-download regardless of chapter counts.
	Force bool

	// EnqueuedAt records when the task first entered the pipeline.
	EnqueuedAt time.Time
}

// New creates a task for the given URL. The site key is normalized before
// being stored.
func New(site, url string) *Task {
	return &Task{
		ID:         uuid.New().String(),
		Site:       NormalizeSite(site),
		URL:        url,
		EnqueuedAt: time.Now().UTC(),
	}
}

// IdleSignal is sent by a worker to the coordinator when it has no more
// immediate work for the site it just finished.
type IdleSignal struct {
	WorkerID int
	Site     string
}
