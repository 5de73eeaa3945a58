package orchestration

import (
	"context"
	"time"
)

// RunStore is the durable run storage contract consumed by the
// pipeline. Implementations must make CompareAndCommit atomic per run:
// the commit applies only if the stored version still equals
// expectedVersion, otherwise ErrVersionConflict is returned and nothing
// changes.
type RunStore interface {
	// GetRun loads a run by id. Returns ErrRunNotFound when absent.
	GetRun(ctx context.Context, id string) (*Run, error)

	// CreateRun persists a new run with its initial state and history.
	// Returns ErrRunExists when the id or a non-empty idempotency key
	// is already taken.
	CreateRun(ctx context.Context, run *Run) error

	// CompareAndCommit atomically appends the commit's history
	// entries, replaces the live state, applies the counter deltas,
	// and increments the version, or fails with ErrVersionConflict.
	CompareAndCommit(ctx context.Context, id string, expectedVersion int64, commit Commit) error
}

// Commit is the atomic write produced by a successful attempt.
type Commit struct {
	// NewState is the state that becomes the run's live state.
	NewState RunState

	// History is appended to the run's state history, in order. The
	// last entry always records NewState.
	History []TransitionRecord

	// RunCountDelta and RetriesRemainingDelta adjust the counters as
	// dictated by the rules that fired. RetriesRemaining floors at
	// zero.
	RunCountDelta         int
	RetriesRemainingDelta int
}

// SlotManager tracks in-use versus available execution slots per
// concurrency scope. Acquisition is all-or-nothing across the given
// scopes and keyed by run id so release is idempotent.
type SlotManager interface {
	// TryAcquire atomically takes one slot in every scope, or none.
	// It returns false with a nil error when any scope is exhausted.
	// Scopes with no configured limit are unbounded.
	TryAcquire(ctx context.Context, runID string, scopes []string) (bool, error)

	// Release returns every slot held by the run. Releasing a run
	// that holds nothing is a no-op.
	Release(ctx context.Context, runID string) error
}

// CacheEntry is a stored terminal result.
type CacheEntry struct {
	ResultRef string        `json:"result_ref"`
	StoredAt  time.Time     `json:"stored_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry is past its TTL at the given
// instant. A zero TTL never expires.
func (e CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.StoredAt.Add(e.TTL))
}

// CacheStore looks up and stores terminal results keyed by cache key
// and scope. It is append-mostly; last-writer-wins on a key is
// acceptable because results for the same key are equivalent.
type CacheStore interface {
	// Get returns the entry for (key, scope), or nil when absent or
	// expired.
	Get(ctx context.Context, key, scope string) (*CacheEntry, error)

	// Put stores a result for (key, scope) with the given TTL.
	Put(ctx context.Context, key, scope, resultRef string, ttl time.Duration) error
}
