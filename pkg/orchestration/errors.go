package orchestration

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by store implementations. The pipeline keys
// its retry and dedup behavior off these with errors.Is.
var (
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned by create when a run with the same id
	// or idempotency key already exists.
	ErrRunExists = errors.New("run already exists")

	// ErrVersionConflict is returned by compare-and-commit when
	// another writer committed first.
	ErrVersionConflict = errors.New("run version conflict")
)

// ErrorClass classifies an orchestration error for caller handling.
type ErrorClass string

const (
	// ErrorClassTransient marks infrastructure faults the caller may
	// retry: store unavailability, commit contention beyond the
	// bounded retry budget.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassCorrupt marks an invariant violation detected on a
	// loaded run. Fatal for that run; it is flagged for manual
	// inspection and the pipeline refuses to act on it.
	ErrorClassCorrupt ErrorClass = "corrupt"
)

// Error is a classified orchestration error with context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// RunID is the run involved, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.RunID != "" {
		msg += fmt.Sprintf(" (run=%s)", e.RunID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithRun attaches the run id to the error.
func (e *Error) WithRun(runID string) *Error {
	e.RunID = runID
	return e
}

// NewTransientError creates a transient infrastructure error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewCorruptError creates a corrupt-state error.
func NewCorruptError(message string, err error) *Error {
	return &Error{Class: ErrorClassCorrupt, Message: message, Err: err}
}

// IsTransient reports whether err is a transient infrastructure error.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ErrorClassTransient
}

// IsCorrupt reports whether err is a corrupt-state error.
func IsCorrupt(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ErrorClassCorrupt
}
