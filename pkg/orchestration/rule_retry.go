package orchestration

import "context"

// retryRule rewrites a retryable Failed proposal into a fresh Scheduled
// state due after a backoff delay, passing through Retrying in the
// history. It spends one retry; the backoff attempt number comes from
// the run's execution count. A failure that is not retryable, or a run
// with no retries left, keeps its original Failed transition unchanged.
type retryRule struct {
	backoff BackoffPolicy
}

// RetryRule returns the automatic-retry rule with the given backoff
// policy.
func RetryRule(backoff BackoffPolicy) Rule { return &retryRule{backoff: backoff} }

func (r *retryRule) Name() string { return "retry" }

func (r *retryRule) Evaluate(_ context.Context, a *Attempt) (Decision, error) {
	if a.Proposed.Type != StateFailed {
		return Allow(), nil
	}
	failure := a.Proposed.Failure
	if failure == nil || !failure.Class.Retryable() || a.Run.RetriesRemaining <= 0 {
		return Allow(), nil
	}

	a.SpendRetry()

	due := a.Now.Add(r.backoff.Delay(a.Run.RunCount))
	rescheduled := Scheduled(a.Now, due)
	rescheduled.Message = failure.Message

	return Rewrite(ReasonRetryScheduled, rescheduled, Retrying(a.Now)), nil
}
