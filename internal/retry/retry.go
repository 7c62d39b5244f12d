// Package retry decides what happens to a task after a failed attempt:
// schedule a normal retry, arm the final hail-mary attempt, or abandon.
package retry

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/storyfetch/storyfetch/internal/task"
)

// ErrForceNotAllowed marks a failure caused by requesting a forced update
// while the configured update mode forbids forcing. Executors wrap it;
// workers detect it with errors.Is and pass it to Decide as the
// forced-conflict flag.
var ErrForceNotAllowed = errors.New("forced update not allowed by update mode")

// Action is the outcome class of a retry decision.
type Action int

const (
	// ActionRetry reschedules the task after a short jittered delay.
	ActionRetry Action = iota
	// ActionHailMary schedules one final long-delayed attempt.
	ActionHailMary
	// ActionAbandon drops the task permanently.
	ActionAbandon
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionHailMary:
		return "hail-mary"
	case ActionAbandon:
		return "abandon"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// maxDelaySteps caps the linear growth of the normal-retry delay.
const maxDelaySteps = 20

// Decision is the pure output of Decide. It is never persisted.
type Decision struct {
	Action  Action
	Delay   time.Duration
	Notify  bool
	Message string
}

// Config controls the decision boundaries.
type Config struct {
	// MaxNormalRetries is the attempt count at which normal retries stop.
	// An attempt count exactly equal to this value is the hail-mary
	// trigger point.
	MaxNormalRetries int

	// HailMary enables the final long-delayed attempt.
	HailMary bool

	// HailMaryWait is the delay before the hail-mary attempt.
	HailMaryWait time.Duration

	// Unit scales the normal-retry delay steps. Defaults to one minute.
	Unit time.Duration
}

// DefaultConfig mirrors the download tool's usual cadence: eleven normal
// retries a few minutes apart, then one hail-mary twelve hours later.
func DefaultConfig() Config {
	return Config{
		MaxNormalRetries: 11,
		HailMary:         true,
		HailMaryWait:     720 * time.Minute,
		Unit:             time.Minute,
	}
}

// HailMaryMessage is the advisory sent when a task enters its hail-mary wait.
const HailMaryMessage = "normal retries exhausted; one final attempt is scheduled after the hail-mary wait"

// ForcedConflictMessage is the advisory sent when a forced update was
// requested but the configured update mode forbids forcing.
const ForcedConflictMessage = "a forced update was requested but the configured update mode does not allow forcing"

// Policy wraps Config with the jitter source. Safe for concurrent use.
type Policy struct {
	cfg Config

	mu   sync.Mutex
	rand *rand.Rand
}

// NewPolicy creates a policy with a time-seeded jitter source.
func NewPolicy(cfg Config) *Policy {
	return NewPolicyWithRand(cfg, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewPolicyWithRand creates a policy with an explicit random source.
// Tests inject a fixed seed here to make delays reproducible.
func NewPolicyWithRand(cfg Config, r *rand.Rand) *Policy {
	if cfg.Unit <= 0 {
		cfg.Unit = time.Minute
	}
	return &Policy{cfg: cfg, rand: r}
}

// Config returns the policy's configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Decide maps a task's failure history to a retry decision. The task's own
// MaxAttempts is the retry ceiling (the policy config is the fallback when
// a task carries none), and a task whose hail-mary attempt has already been
// spent is terminal.
//
//   - attempts below the ceiling retry with delay
//     min(attempts, 20) units scaled by a jitter factor in [0.5, 1.5)
//   - attempts exactly at the ceiling trigger the hail-mary, if enabled
//   - everything else abandons; forcedConflict controls whether the
//     abandonment is worth notifying about
func (p *Policy) Decide(t *task.Task, forcedConflict bool) Decision {
	cfg := p.cfg
	max := t.MaxAttempts
	if max <= 0 {
		max = cfg.MaxNormalRetries
	}

	switch {
	case !t.HailMary && t.Attempts < max:
		steps := t.Attempts
		if steps > maxDelaySteps {
			steps = maxDelaySteps
		}
		base := time.Duration(steps) * cfg.Unit
		return Decision{
			Action: ActionRetry,
			Delay:  time.Duration(float64(base) * p.jitter()),
		}

	case !t.HailMary && t.Attempts == max && cfg.HailMary:
		return Decision{
			Action:  ActionHailMary,
			Delay:   cfg.HailMaryWait,
			Notify:  true,
			Message: HailMaryMessage,
		}

	default:
		d := Decision{Action: ActionAbandon}
		if forcedConflict {
			d.Notify = true
			d.Message = ForcedConflictMessage
		}
		return d
	}
}

// jitter returns a uniform factor in [0.5, 1.5).
func (p *Policy) jitter() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 0.5 + p.rand.Float64()
}
