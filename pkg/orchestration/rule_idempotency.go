package orchestration

import "context"

// idempotencyRule accepts a proposal of the same state type as the
// current state without committing anything, so duplicate signals from
// multiple callers are harmless.
type idempotencyRule struct{}

// IdempotencyRule returns the duplicate-signal guard.
func IdempotencyRule() Rule { return idempotencyRule{} }

func (idempotencyRule) Name() string { return "idempotency" }

func (idempotencyRule) Evaluate(_ context.Context, a *Attempt) (Decision, error) {
	if !a.Creating() && a.Proposed.Type == a.Current.Type {
		return Noop("duplicate transition signal"), nil
	}
	return Allow(), nil
}
