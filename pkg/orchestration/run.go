package orchestration

import (
	"fmt"
	"time"
)

// TransitionRecord is one entry of a run's append-only state history.
type TransitionRecord struct {
	// State is the state that was committed.
	State RunState `json:"state"`

	// Reason is the rule-assigned reason for the transition.
	Reason string `json:"reason,omitempty"`

	// Rule names the rule that decided the transition, if any.
	Rule string `json:"rule,omitempty"`
}

// Run is one unit of orchestrated work: a flow run, or a task run owned
// by a parent flow run. A run is created once, mutated exclusively
// through the transition pipeline, and never deleted by the core.
type Run struct {
	// ID is the stable unique identity of the run.
	ID string `json:"id"`

	// IdempotencyKey deduplicates creation. The materializer uses
	// "<schedule id>:<occurrence timestamp>" so the same occurrence is
	// never materialized twice.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Name is a human-readable label.
	Name string `json:"name,omitempty"`

	// ScheduleID links a materialized run back to its schedule.
	ScheduleID string `json:"schedule_id,omitempty"`

	// ParentID is the owning flow run for task runs.
	ParentID string `json:"parent_id,omitempty"`

	// State is the single live state. Never empty.
	State RunState `json:"state"`

	// StateHistory is the append-only sequence of committed states.
	StateHistory []TransitionRecord `json:"state_history,omitempty"`

	// Version is the optimistic-concurrency token; it increments on
	// every committed transition.
	Version int64 `json:"version"`

	// RunCount is the number of times this logical run has entered an
	// executing state. Only ever increases.
	RunCount int `json:"run_count"`

	// RetriesRemaining is decremented by the retry rule, floored at
	// zero.
	RetriesRemaining int `json:"retries_remaining"`

	// Tags are the concurrency-limit scope keys for this run.
	Tags []string `json:"tags,omitempty"`

	// CacheKey enables the cache rule when non-empty.
	CacheKey string `json:"cache_key,omitempty"`

	// CacheTTL bounds how long a cached result may satisfy CacheKey.
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`

	// CreatedAt is when the run was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the run was last committed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the run's structural invariants on load. A violation
// means the stored record is corrupt; the pipeline refuses to act on it
// rather than guessing a recovery.
func (r *Run) Validate() error {
	if r.ID == "" {
		return NewCorruptError("run has no id", nil)
	}
	if r.State.Type == "" {
		return NewCorruptError("run has no live state", nil).WithRun(r.ID)
	}
	if !knownStateTypes[r.State.Type] {
		return NewCorruptError(fmt.Sprintf("unknown state type %q", r.State.Type), nil).WithRun(r.ID)
	}
	if r.RunCount < 0 || r.RetriesRemaining < 0 {
		return NewCorruptError("negative counter", nil).WithRun(r.ID)
	}
	var prev time.Time
	for i := range r.StateHistory {
		ts := r.StateHistory[i].State.Timestamp
		if i > 0 && !ts.After(prev) {
			return NewCorruptError("state history timestamps not strictly increasing", nil).WithRun(r.ID)
		}
		prev = ts
	}
	return nil
}

// HasTag reports whether the run carries the given tag.
func (r *Run) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
