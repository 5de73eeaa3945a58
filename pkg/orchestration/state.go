package orchestration

import "time"

// StateType identifies a run lifecycle stage. The set is closed; every
// rule switches exhaustively over it so a new state cannot be ignored
// silently.
type StateType string

const (
	StateScheduled  StateType = "scheduled"
	StatePending    StateType = "pending"
	StateRunning    StateType = "running"
	StatePaused     StateType = "paused"
	StateCancelling StateType = "cancelling"
	StateCancelled  StateType = "cancelled"
	StateCompleted  StateType = "completed"
	StateFailed     StateType = "failed"
	StateCrashed    StateType = "crashed"
	StateRetrying   StateType = "retrying"
)

// knownStateTypes is used to detect corrupt runs on load.
var knownStateTypes = map[StateType]bool{
	StateScheduled: true, StatePending: true, StateRunning: true,
	StatePaused: true, StateCancelling: true, StateCancelled: true,
	StateCompleted: true, StateFailed: true, StateCrashed: true,
	StateRetrying: true,
}

// IsTerminal reports whether the state admits no further transitions
// under the base rule set (the explicit manual-retry path excepted).
func (t StateType) IsTerminal() bool {
	switch t {
	case StateCompleted, StateCancelled, StateCrashed:
		return true
	default:
		return false
	}
}

// FailureClass classifies a failure for retry decisions.
type FailureClass string

const (
	// FailureTransient covers temporary faults: timeouts, brief
	// unavailability. Retryable.
	FailureTransient FailureClass = "transient"

	// FailureThrottled covers rate limiting and quota exhaustion.
	// Retryable with backoff.
	FailureThrottled FailureClass = "throttled"

	// FailurePermanent covers faults a retry cannot fix: bad inputs,
	// permission errors. Never retried.
	FailurePermanent FailureClass = "permanent"
)

// Retryable reports whether the class permits an automatic retry.
func (c FailureClass) Retryable() bool {
	return c == FailureTransient || c == FailureThrottled
}

// FailureInfo is the payload of Failed and Crashed states.
type FailureInfo struct {
	// Class drives the retry rule.
	Class FailureClass `json:"class"`

	// Message is the human-readable failure description.
	Message string `json:"message"`
}

// PauseCondition is the payload of a Paused state. A paused run resumes
// only once the condition is satisfied: the resume instant has passed,
// or an operator approved the resume when approval is required.
type PauseCondition struct {
	// ResumeAfter is the earliest instant the run may resume, if set.
	ResumeAfter *time.Time `json:"resume_after,omitempty"`

	// RequiresApproval gates the resume on an explicit approval flag
	// in the transition context.
	RequiresApproval bool `json:"requires_approval"`
}

// RunState is the tagged variant describing one lifecycle stage. Type
// selects the variant; the payload fields below are populated only for
// the variants that carry them.
type RunState struct {
	// Type is the variant tag. Never empty on a persisted state.
	Type StateType `json:"type"`

	// Timestamp is when the state was committed.
	Timestamp time.Time `json:"timestamp"`

	// Message is an optional free-form annotation.
	Message string `json:"message,omitempty"`

	// ScheduledTime is when a Scheduled run is due.
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`

	// ResultRef points at the stored result of a Completed run.
	ResultRef string `json:"result_ref,omitempty"`

	// FromCache marks a Completed state produced by a cache hit
	// rather than genuine execution.
	FromCache bool `json:"from_cache,omitempty"`

	// Failure carries the classification of Failed and Crashed states.
	Failure *FailureInfo `json:"failure,omitempty"`

	// Pause carries the resume condition of a Paused state.
	Pause *PauseCondition `json:"pause,omitempty"`
}

// Scheduled builds a Scheduled state due at the given instant.
func Scheduled(at time.Time, due time.Time) RunState {
	return RunState{Type: StateScheduled, Timestamp: at, ScheduledTime: &due}
}

// Pending builds a Pending state.
func Pending(at time.Time) RunState {
	return RunState{Type: StatePending, Timestamp: at}
}

// Running builds a Running state.
func Running(at time.Time) RunState {
	return RunState{Type: StateRunning, Timestamp: at}
}

// Paused builds a Paused state with the given resume condition.
func Paused(at time.Time, cond PauseCondition) RunState {
	return RunState{Type: StatePaused, Timestamp: at, Pause: &cond}
}

// Cancelling builds a Cancelling state.
func Cancelling(at time.Time) RunState {
	return RunState{Type: StateCancelling, Timestamp: at}
}

// Cancelled builds a Cancelled state.
func Cancelled(at time.Time) RunState {
	return RunState{Type: StateCancelled, Timestamp: at}
}

// Completed builds a Completed state referencing a stored result.
func Completed(at time.Time, resultRef string) RunState {
	return RunState{Type: StateCompleted, Timestamp: at, ResultRef: resultRef}
}

// Failed builds a Failed state with a classified failure.
func Failed(at time.Time, class FailureClass, message string) RunState {
	return RunState{Type: StateFailed, Timestamp: at, Failure: &FailureInfo{Class: class, Message: message}}
}

// Crashed builds a Crashed state.
func Crashed(at time.Time, message string) RunState {
	return RunState{Type: StateCrashed, Timestamp: at, Failure: &FailureInfo{Class: FailurePermanent, Message: message}}
}

// Retrying builds a Retrying state.
func Retrying(at time.Time) RunState {
	return RunState{Type: StateRetrying, Timestamp: at}
}
