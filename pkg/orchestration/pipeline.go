package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowmark/flowmark/pkg/clock"
	"github.com/flowmark/flowmark/pkg/telemetry"
)

// PipelineConfig carries the pipeline's policy parameters.
type PipelineConfig struct {
	// MaxCommitAttempts bounds how many times a proposal is retried
	// after compare-and-set conflicts before surfacing a transient
	// error.
	MaxCommitAttempts int

	// Backoff is the retry rule's delay policy.
	Backoff BackoffPolicy
}

// DefaultPipelineConfig returns the default policy parameters.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxCommitAttempts: 5,
		Backoff:           DefaultBackoff,
	}
}

// Pipeline orchestrates attempted state changes through the rule set
// against the run store. It is safe for concurrent use by any number of
// callers; per-run linearizability comes from the store's
// compare-and-commit primitive, not from locks held here.
type Pipeline struct {
	store   RunStore
	rules   []Rule
	clock   clock.Clock
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	cfg     PipelineConfig
}

// BaseRules composes the standard rule set in its evaluation order:
// idempotency guard, lifecycle validity, result cache, concurrency
// limiter, automatic retry. The cache rule precedes the concurrency
// rule so a cache hit never consumes an execution slot.
func BaseRules(slots SlotManager, cache CacheStore, backoff BackoffPolicy) []Rule {
	return []Rule{
		IdempotencyRule(),
		LifecycleRule(),
		CacheRule(cache),
		ConcurrencyRule(slots),
		RetryRule(backoff),
	}
}

// NewPipeline creates a transition pipeline over the given store and
// rule set.
func NewPipeline(store RunStore, rules []Rule, clk clock.Clock, logger *telemetry.Logger, metrics *telemetry.Metrics, cfg PipelineConfig) *Pipeline {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.MaxCommitAttempts <= 0 {
		cfg.MaxCommitAttempts = DefaultPipelineConfig().MaxCommitAttempts
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Pipeline{
		store:   store,
		rules:   rules,
		clock:   clk,
		logger:  logger.NewComponentLogger("pipeline"),
		metrics: metrics,
		cfg:     cfg,
	}
}

// CreateParams describes a run to be created.
type CreateParams struct {
	// Name is an optional human-readable label.
	Name string

	// IdempotencyKey deduplicates creation when non-empty.
	IdempotencyKey string

	// ScheduleID links a materialized run to its schedule.
	ScheduleID string

	// ParentID marks a task run owned by a flow run.
	ParentID string

	// Initial is the first state; it must be Scheduled or Pending.
	Initial RunState

	// Tags are the run's concurrency scopes.
	Tags []string

	// CacheKey and CacheTTL configure the cache rule for this run.
	CacheKey string
	CacheTTL time.Duration

	// Retries is the automatic retry budget.
	Retries int
}

// CreateRun creates a new run entering its initial state. Creation
// flows through the same rule set as every other transition, so base
// policies apply from the first state on. A duplicate idempotency key
// returns ErrRunExists with nothing written.
func (p *Pipeline) CreateRun(ctx context.Context, params CreateParams, tctx Context) (*Run, error) {
	now := p.clock.Now()
	run := &Run{
		ID:               uuid.New().String(),
		IdempotencyKey:   params.IdempotencyKey,
		Name:             params.Name,
		ScheduleID:       params.ScheduleID,
		ParentID:         params.ParentID,
		Tags:             params.Tags,
		CacheKey:         params.CacheKey,
		CacheTTL:         params.CacheTTL,
		RetriesRemaining: params.Retries,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	a := &Attempt{Run: run, Proposed: params.Initial, Ctx: tctx, Now: now}
	a.Proposed.Timestamp = now

	outcome, err := p.evaluate(ctx, a)
	if err != nil {
		a.abort(ctx)
		return nil, err
	}
	if outcome.Kind == OutcomeRejected {
		a.abort(ctx)
		return nil, fmt.Errorf("initial state %s rejected by rule %s: %s", params.Initial.Type, outcome.Rule, outcome.Reason)
	}

	run.State = a.Proposed
	run.StateHistory = []TransitionRecord{{State: a.Proposed, Reason: "created", Rule: outcome.Rule}}
	run.RunCount = max(0, a.runCountDelta)
	run.Version = 1

	if err := p.store.CreateRun(ctx, run); err != nil {
		a.abort(ctx)
		if errors.Is(err, ErrRunExists) {
			return nil, err
		}
		return nil, NewTransientError("run create failed", err)
	}
	a.commit(ctx)

	p.logger.WithRunID(run.ID).WithField("state", string(run.State.Type)).Debug("run created")
	if p.metrics != nil {
		p.metrics.RunCreated(string(run.State.Type))
	}
	return run, nil
}

// ProposeTransition attempts one state change for the run. Exactly one
// outcome is ever committed per proposed change: the proposal is
// committed, rejected with a reason, or rewritten by a rule and the
// rewritten state committed. A proposal of the run's current state type
// is accepted idempotently without a commit.
//
// Rejections are returned in the Outcome, never as errors. Errors mean
// infrastructure faults (store unavailable, commit contention beyond
// the bounded budget) or corrupt stored state.
func (p *Pipeline) ProposeTransition(ctx context.Context, runID string, proposed RunState, tctx Context) (Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.propose_transition")
	defer span.End()

	start := time.Now()
	var outcome Outcome
	var err error

	for attempt := 1; attempt <= p.cfg.MaxCommitAttempts; attempt++ {
		outcome, err = p.attemptOnce(ctx, runID, proposed, tctx)
		if err == nil {
			p.observe(runID, proposed, outcome, start)
			return outcome, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Outcome{}, err
		}
		if p.metrics != nil {
			p.metrics.CommitConflict()
		}
	}

	return Outcome{}, NewTransientError(
		fmt.Sprintf("commit contention: %d attempts exhausted", p.cfg.MaxCommitAttempts), err,
	).WithRun(runID)
}

// attemptOnce runs a single load/evaluate/commit cycle. It returns
// ErrVersionConflict when another writer won the race and the whole
// attempt should restart from a fresh load.
func (p *Pipeline) attemptOnce(ctx context.Context, runID string, proposed RunState, tctx Context) (Outcome, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return Outcome{}, err
		}
		return Outcome{}, NewTransientError("run load failed", err).WithRun(runID)
	}
	if err := run.Validate(); err != nil {
		p.logger.WithRunID(runID).WithError(err).Error("refusing to act on corrupt run")
		return Outcome{}, err
	}

	now := p.clock.Now()
	a := &Attempt{Run: run, Current: run.State, Proposed: proposed, Ctx: tctx, Now: now}
	a.Proposed.Timestamp = now

	outcome, err := p.evaluate(ctx, a)
	if err != nil {
		a.abort(ctx)
		return Outcome{}, err
	}
	if outcome.Kind == OutcomeRejected || outcome.Noop {
		a.abort(ctx)
		return outcome, nil
	}

	commit := p.buildCommit(a, outcome)
	outcome.State = commit.NewState
	if err := p.store.CompareAndCommit(ctx, run.ID, run.Version, commit); err != nil {
		a.abort(ctx)
		if errors.Is(err, ErrVersionConflict) {
			return Outcome{}, err
		}
		return Outcome{}, NewTransientError("commit failed", err).WithRun(runID)
	}
	a.commit(ctx)
	return outcome, nil
}

// evaluate walks the rule list front to back. A rewrite replaces the
// proposal and the remaining rule suffix evaluates the rewritten state;
// each rule may rewrite at most once per attempt, which bounds the
// attempt to termination.
func (p *Pipeline) evaluate(ctx context.Context, a *Attempt) (Outcome, error) {
	originalType := a.Proposed.Type
	var decidingRule, rewriteReason string

	for _, rule := range p.rules {
		decision, err := rule.Evaluate(ctx, a)
		if err != nil {
			return Outcome{}, err
		}

		switch decision.Kind {
		case DecisionAllow:

		case DecisionNoop:
			return Outcome{
				Kind:   OutcomeCommitted,
				State:  a.Current,
				Reason: decision.Reason,
				Rule:   rule.Name(),
				Noop:   true,
			}, nil

		case DecisionReject:
			return Outcome{
				Kind:   OutcomeRejected,
				State:  a.Current,
				Reason: decision.Reason,
				Rule:   rule.Name(),
			}, nil

		case DecisionRewrite:
			if decision.Rewritten == nil {
				return Outcome{}, NewTransientError(fmt.Sprintf("rule %s rewrote to nil", rule.Name()), nil)
			}
			a.Via = append(a.Via, decision.Via...)
			a.Proposed = *decision.Rewritten
			a.Proposed.Timestamp = a.Now
			decidingRule, rewriteReason = rule.Name(), decision.Reason

		default:
			return Outcome{}, NewTransientError(fmt.Sprintf("rule %s returned unknown decision", rule.Name()), nil)
		}
	}

	outcome := Outcome{Kind: OutcomeCommitted, State: a.Proposed}
	if a.Proposed.Type != originalType {
		outcome.Kind = OutcomeRewritten
		outcome.Reason = rewriteReason
		outcome.Rule = decidingRule
	}
	return outcome, nil
}

// buildCommit assembles the atomic write for a successful attempt,
// normalizing history timestamps so they stay strictly increasing even
// when several entries are minted in one attempt or the clock stands
// still between commits.
func (p *Pipeline) buildCommit(a *Attempt, outcome Outcome) Commit {
	floor := time.Time{}
	if n := len(a.Run.StateHistory); n > 0 {
		floor = a.Run.StateHistory[n-1].State.Timestamp
	}

	entries := make([]TransitionRecord, 0, len(a.Via)+1)
	for _, via := range a.Via {
		entries = append(entries, TransitionRecord{State: via, Reason: outcome.Reason, Rule: outcome.Rule})
	}
	entries = append(entries, TransitionRecord{State: a.Proposed, Reason: outcome.Reason, Rule: outcome.Rule})

	for i := range entries {
		if !entries[i].State.Timestamp.After(floor) {
			entries[i].State.Timestamp = floor.Add(time.Nanosecond)
		}
		floor = entries[i].State.Timestamp
	}

	newState := entries[len(entries)-1].State
	return Commit{
		NewState:              newState,
		History:               entries,
		RunCountDelta:         a.runCountDelta,
		RetriesRemainingDelta: a.retriesDelta,
	}
}

func (p *Pipeline) observe(runID string, proposed RunState, outcome Outcome, start time.Time) {
	log := p.logger.WithRunID(runID).
		WithField("proposed", string(proposed.Type)).
		WithField("outcome", string(outcome.Kind))
	switch outcome.Kind {
	case OutcomeRejected:
		log.WithField("reason", outcome.Reason).WithField("rule", outcome.Rule).Debug("transition rejected")
	case OutcomeRewritten:
		log.WithField("committed", string(outcome.State.Type)).WithField("rule", outcome.Rule).Debug("transition rewritten")
	default:
		log.Debug("transition committed")
	}
	if p.metrics != nil {
		p.metrics.TransitionObserved(string(proposed.Type), string(outcome.Kind), outcome.Reason, time.Since(start))
	}
}
