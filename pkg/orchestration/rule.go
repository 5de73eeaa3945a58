package orchestration

import (
	"context"
	"time"
)

// Rejection reasons assigned by the base rule set.
const (
	ReasonInvalidState         = "invalid-state"
	ReasonConcurrencyExhausted = "concurrency-exhausted"
	ReasonResumeNotReady       = "resume-not-ready"
	ReasonPolicyAbort          = "policy-abort"
	ReasonCacheHit             = "cache-hit"
	ReasonRetryScheduled       = "retry-scheduled"
	ReasonManualRetry          = "manual-retry"
)

// Context carries caller-supplied context for one proposed transition.
type Context struct {
	// Actor identifies the caller (worker id, user, "materializer").
	Actor string `json:"actor,omitempty"`

	// CacheScope namespaces cache keys; defaults to "global".
	CacheScope string `json:"cache_scope,omitempty"`

	// ResumeApproved satisfies a pause condition that requires
	// approval.
	ResumeApproved bool `json:"resume_approved,omitempty"`

	// ManualRetry authorizes the explicit retry-from-terminal path,
	// which the base rule set rejects otherwise.
	ManualRetry bool `json:"manual_retry,omitempty"`
}

// DecisionKind is the verdict a rule returns for a proposal.
type DecisionKind int

const (
	// DecisionAllow passes the proposal to the next rule unchanged.
	DecisionAllow DecisionKind = iota

	// DecisionReject stops the attempt; the pipeline returns a
	// Rejected outcome with the rule's reason.
	DecisionReject

	// DecisionRewrite replaces the proposal; the remaining rule
	// suffix re-evaluates against the rewritten state.
	DecisionRewrite

	// DecisionNoop accepts the proposal without committing anything.
	// Used by the idempotency guard for same-state-type proposals.
	DecisionNoop
)

// Decision is a rule's verdict.
type Decision struct {
	Kind   DecisionKind
	Reason string

	// Rewritten is the replacement proposal for DecisionRewrite.
	Rewritten *RunState

	// Via are intermediate states recorded in the history ahead of
	// the final committed state (e.g. Retrying before Scheduled).
	Via []RunState
}

// Allow returns an allowing decision.
func Allow() Decision { return Decision{Kind: DecisionAllow} }

// Reject returns a rejecting decision with the given reason.
func Reject(reason string) Decision { return Decision{Kind: DecisionReject, Reason: reason} }

// Rewrite returns a rewriting decision.
func Rewrite(reason string, state RunState, via ...RunState) Decision {
	return Decision{Kind: DecisionRewrite, Reason: reason, Rewritten: &state, Via: via}
}

// Noop returns an idempotent-accept decision.
func Noop(reason string) Decision { return Decision{Kind: DecisionNoop, Reason: reason} }

// Attempt is the mutable evaluation state of one transition attempt.
// Rules read the run and proposal from it and register provisional side
// effects on it; the pipeline fires the commit hooks after a successful
// compare-and-commit and the abort hooks otherwise.
type Attempt struct {
	// Run is the loaded run. Rules must not mutate it.
	Run *Run

	// Current is the run's live state at load time.
	Current RunState

	// Proposed is the (possibly rewritten) proposal under evaluation.
	Proposed RunState

	// Ctx is the caller-supplied transition context.
	Ctx Context

	// Now is the pipeline clock reading for this attempt.
	Now time.Time

	// Via accumulates intermediate states recorded before the final
	// committed state.
	Via []RunState

	runCountDelta int
	retriesDelta  int

	onCommit []func(context.Context)
	onAbort  []func(context.Context)
}

// Creating reports whether this attempt creates a new run (there is no
// current state yet).
func (a *Attempt) Creating() bool {
	return a.Current.Type == ""
}

// BumpRunCount records a run_count increment for the commit.
func (a *Attempt) BumpRunCount() { a.runCountDelta++ }

// CancelRunCount discards increments recorded earlier in the attempt.
// Used when a rewrite means the run never actually executes.
func (a *Attempt) CancelRunCount() { a.runCountDelta = 0 }

// SpendRetry records a retries_remaining decrement for the commit.
func (a *Attempt) SpendRetry() { a.retriesDelta-- }

// OnCommit registers a hook fired after the attempt commits.
func (a *Attempt) OnCommit(fn func(context.Context)) {
	a.onCommit = append(a.onCommit, fn)
}

// OnAbort registers a rollback hook fired when the attempt does not
// commit (rejection, conflict, or infrastructure failure).
func (a *Attempt) OnAbort(fn func(context.Context)) {
	a.onAbort = append(a.onAbort, fn)
}

func (a *Attempt) commit(ctx context.Context) {
	for _, fn := range a.onCommit {
		fn(ctx)
	}
}

func (a *Attempt) abort(ctx context.Context) {
	for _, fn := range a.onAbort {
		fn(ctx)
	}
}

// Rule is one orchestration policy. Rules are composed into an ordered
// list evaluated front to back; the pipeline short-circuits on the
// first rejection. New policies are added by extending the list, never
// by runtime registration.
type Rule interface {
	// Name identifies the rule in outcomes, history, and logs.
	Name() string

	// Evaluate judges the attempt's current proposal. Returned errors
	// must be infrastructure faults only; policy verdicts are
	// decisions.
	Evaluate(ctx context.Context, a *Attempt) (Decision, error)
}

// OutcomeKind is the final disposition of a proposed transition.
type OutcomeKind string

const (
	// OutcomeCommitted means the proposed state was committed as
	// proposed (or accepted idempotently without a new commit).
	OutcomeCommitted OutcomeKind = "committed"

	// OutcomeRejected means a rule refused the proposal.
	OutcomeRejected OutcomeKind = "rejected"

	// OutcomeRewritten means a different state than proposed was
	// committed.
	OutcomeRewritten OutcomeKind = "rewritten"
)

// Outcome is the committed result of one proposed transition.
type Outcome struct {
	// Kind is the disposition.
	Kind OutcomeKind `json:"kind"`

	// State is the run's live state after the attempt: the committed
	// state, or the unchanged current state for rejections and
	// idempotent no-ops.
	State RunState `json:"state"`

	// Reason explains rejections and rewrites.
	Reason string `json:"reason,omitempty"`

	// Rule names the deciding rule, if any.
	Rule string `json:"rule,omitempty"`

	// Noop marks an idempotent accept that committed nothing.
	Noop bool `json:"noop,omitempty"`
}
