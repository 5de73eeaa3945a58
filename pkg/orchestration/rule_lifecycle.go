package orchestration

import "context"

// lifecycleRule enforces the legal transition graph: which states a
// proposal may be entered from, the pause/cancel ordering, the
// terminal-state guard, and the resume condition of paused runs.
type lifecycleRule struct{}

// LifecycleRule returns the state-machine validity rule.
func LifecycleRule() Rule { return lifecycleRule{} }

func (lifecycleRule) Name() string { return "lifecycle" }

func (lifecycleRule) Evaluate(_ context.Context, a *Attempt) (Decision, error) {
	cur := a.Current.Type
	proposed := a.Proposed.Type

	// Terminal states admit no transitions except the explicit,
	// separately authorized retry-from-terminal path.
	if cur.IsTerminal() {
		if a.Ctx.ManualRetry && proposed == StateScheduled {
			return Allow(), nil
		}
		return Reject(ReasonInvalidState), nil
	}

	switch proposed {
	case StateScheduled:
		if a.Creating() {
			return Allow(), nil
		}
		// Re-scheduling a failed run requires explicit authorization;
		// the automatic path is the retry rule's rewrite, which this
		// rule never sees.
		if a.Ctx.ManualRetry && cur == StateFailed {
			return Allow(), nil
		}
		return Reject(ReasonInvalidState), nil

	case StatePending:
		if a.Creating() || cur == StateScheduled {
			return Allow(), nil
		}
		return Reject(ReasonInvalidState), nil

	case StateRunning:
		switch cur {
		case StateScheduled, StatePending:
			// Entering execution counts one attempt. A resume from
			// Paused continues the same attempt and does not.
			a.BumpRunCount()
			return Allow(), nil
		case StatePaused:
			return evaluateResume(a), nil
		default:
			return Reject(ReasonInvalidState), nil
		}

	case StatePaused:
		if cur != StatePending && cur != StateRunning {
			return Reject(ReasonInvalidState), nil
		}
		if a.Proposed.Pause == nil {
			// A pause without a resume condition could never resume.
			return Reject(ReasonInvalidState), nil
		}
		return Allow(), nil

	case StateCancelling:
		switch cur {
		case StateScheduled, StatePending, StatePaused, StateRunning:
			return Allow(), nil
		default:
			return Reject(ReasonInvalidState), nil
		}

	case StateCancelled:
		if cur == StateCancelling {
			return Allow(), nil
		}
		return Reject(ReasonInvalidState), nil

	case StateCompleted:
		if cur == StateRunning {
			return Allow(), nil
		}
		return Reject(ReasonInvalidState), nil

	case StateFailed, StateCrashed:
		if cur == StateRunning || cur == StatePending {
			return Allow(), nil
		}
		return Reject(ReasonInvalidState), nil

	case StateRetrying:
		// Retrying is produced only by the retry rule's rewrite; a
		// direct proposal is always invalid.
		return Reject(ReasonInvalidState), nil

	default:
		return Reject(ReasonInvalidState), nil
	}
}

// evaluateResume validates the stored pause condition before letting a
// paused run back into Running.
func evaluateResume(a *Attempt) Decision {
	cond := a.Current.Pause
	if cond == nil {
		return Reject(ReasonInvalidState)
	}
	if cond.RequiresApproval && !a.Ctx.ResumeApproved {
		return Reject(ReasonResumeNotReady)
	}
	if cond.ResumeAfter != nil && a.Now.Before(*cond.ResumeAfter) {
		return Reject(ReasonResumeNotReady)
	}
	return Allow()
}
