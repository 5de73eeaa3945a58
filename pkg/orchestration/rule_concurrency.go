package orchestration

import "context"

// concurrencyRule gates entry into Running behind the slot manager. On
// a proposed Running it acquires one slot in every scope matching the
// run's tags, all-or-nothing; the acquisition is provisional and is
// released again if the attempt aborts. On a transition out of Running
// into a terminal or Paused state the held slots are released.
type concurrencyRule struct {
	slots SlotManager
}

// ConcurrencyRule returns the slot-limiting rule backed by the given
// manager.
func ConcurrencyRule(slots SlotManager) Rule { return &concurrencyRule{slots: slots} }

func (r *concurrencyRule) Name() string { return "concurrency" }

func (r *concurrencyRule) Evaluate(ctx context.Context, a *Attempt) (Decision, error) {
	runID := a.Run.ID

	if a.Proposed.Type == StateRunning && a.Current.Type != StateRunning {
		if len(a.Run.Tags) > 0 {
			ok, err := r.slots.TryAcquire(ctx, runID, a.Run.Tags)
			if err != nil {
				return Decision{}, NewTransientError("slot acquisition failed", err).WithRun(runID)
			}
			if !ok {
				// The caller re-proposes later; the pipeline never
				// busy-waits on a slot.
				return Reject(ReasonConcurrencyExhausted), nil
			}
			a.OnAbort(func(ctx context.Context) {
				_ = r.slots.Release(ctx, runID)
			})
		}
		return Allow(), nil
	}

	// Release fires on any exit from Running (Failed included, since
	// the retry rewrite reschedules rather than re-runs) and on every
	// terminal entry, which also covers Running -> Cancelling ->
	// Cancelled. Release is keyed by run id and idempotent, so the
	// overlap is harmless.
	leavingRunning := a.Current.Type == StateRunning && a.Proposed.Type != StateRunning
	if leavingRunning || a.Proposed.Type.IsTerminal() || a.Proposed.Type == StatePaused {
		a.OnCommit(func(ctx context.Context) {
			_ = r.slots.Release(ctx, runID)
		})
	}
	return Allow(), nil
}
