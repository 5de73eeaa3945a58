// Package materializer turns schedule definitions into concrete
// Scheduled runs. Each occurrence is created with a deterministic
// idempotency key, so overlapping or repeated passes over the same
// window never produce duplicate runs.
package materializer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowmark/flowmark/pkg/clock"
	"github.com/flowmark/flowmark/pkg/orchestration"
	"github.com/flowmark/flowmark/pkg/schedule"
	"github.com/flowmark/flowmark/pkg/stores"
	"github.com/flowmark/flowmark/pkg/telemetry"
)

// Config carries the materializer's policy parameters.
type Config struct {
	// Horizon is how far ahead of now occurrences are materialized.
	Horizon time.Duration

	// MaxPerSchedule bounds the occurrences created for one schedule
	// in one pass, so a misconfigured high-frequency schedule cannot
	// flood the store.
	MaxPerSchedule int

	// StaleRunning is how long a run may sit in Running without a
	// committed transition before the sweeper marks it Crashed.
	StaleRunning time.Duration
}

// DefaultConfig returns the default materializer parameters.
func DefaultConfig() Config {
	return Config{
		Horizon:        time.Hour,
		MaxPerSchedule: 100,
		StaleRunning:   15 * time.Minute,
	}
}

// Materializer materializes due schedule occurrences into runs and
// sweeps runs abandoned mid-execution.
type Materializer struct {
	store    stores.Store
	pipeline *orchestration.Pipeline
	clock    clock.Clock
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	cfg      Config
}

// New creates a materializer over the given store and pipeline.
func New(store stores.Store, pipeline *orchestration.Pipeline, clk clock.Clock, logger *telemetry.Logger, metrics *telemetry.Metrics, cfg Config) *Materializer {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultConfig().Horizon
	}
	if cfg.MaxPerSchedule <= 0 {
		cfg.MaxPerSchedule = DefaultConfig().MaxPerSchedule
	}
	if cfg.StaleRunning <= 0 {
		cfg.StaleRunning = DefaultConfig().StaleRunning
	}
	return &Materializer{
		store:    store,
		pipeline: pipeline,
		clock:    clk,
		logger:   logger.NewComponentLogger("materializer"),
		metrics:  metrics,
		cfg:      cfg,
	}
}

// DedupKey is the idempotency key for one occurrence of one schedule.
// It is what makes materialization exactly-once per occurrence.
func DedupKey(scheduleID string, occurrence time.Time) string {
	return scheduleID + ":" + occurrence.UTC().Format(time.RFC3339)
}

// MaterializeDue runs one materialization pass: every active schedule
// gets its occurrences inside the horizon turned into Scheduled runs.
// It returns the number of runs created.
func (m *Materializer) MaterializeDue(ctx context.Context) (int, error) {
	now := m.clock.Now()
	schedules, err := m.store.ListSchedules(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list active schedules: %w", err)
	}

	total := 0
	for _, sched := range schedules {
		created, err := m.MaterializeSchedule(ctx, sched, now, now.Add(m.cfg.Horizon))
		if err != nil {
			// One broken schedule must not starve the rest.
			m.logger.WithScheduleID(sched.ID).WithError(err).Error("schedule materialization failed")
			continue
		}
		total += created
	}
	if m.metrics != nil && total > 0 {
		m.metrics.RunsMaterialized(total)
	}
	return total, nil
}

// MaterializeSchedule creates one Scheduled run per occurrence of the
// schedule strictly after from and at or before until. Occurrences
// already materialized are skipped via the idempotency key.
func (m *Materializer) MaterializeSchedule(ctx context.Context, sched *stores.Schedule, from, until time.Time) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "schedule.materialize", telemetry.AttrScheduleID.String(sched.ID))
	defer span.End()

	iter, err := schedule.Iterate(sched.Spec, from)
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", sched.ID, err)
	}

	created := 0
	for i := 0; i < m.cfg.MaxPerSchedule; i++ {
		occ, ok := iter.Next()
		if !ok || occ.After(until) {
			break
		}

		params := orchestration.CreateParams{
			Name:           fmt.Sprintf("%s @ %s", sched.Name, occ.Format(time.RFC3339)),
			IdempotencyKey: DedupKey(sched.ID, occ),
			ScheduleID:     sched.ID,
			Initial:        orchestration.Scheduled(m.clock.Now(), occ),
			Tags:           sched.Tags,
			CacheKey:       sched.CacheKey,
			CacheTTL:       sched.CacheTTL,
			Retries:        sched.Retries,
		}
		run, err := m.pipeline.CreateRun(ctx, params, orchestration.Context{Actor: "materializer"})
		if err != nil {
			if errors.Is(err, orchestration.ErrRunExists) {
				continue
			}
			return created, fmt.Errorf("materialize %s at %s: %w", sched.ID, occ, err)
		}
		created++
		m.logger.WithScheduleID(sched.ID).WithRunID(run.ID).
			WithField("occurrence", occ.Format(time.RFC3339)).
			Debug("occurrence materialized")
	}
	return created, nil
}

// SweepCrashed marks Running runs with no committed transition for
// longer than the stale threshold as Crashed. It returns the number of
// runs swept.
func (m *Materializer) SweepCrashed(ctx context.Context) (int, error) {
	now := m.clock.Now()
	cutoff := now.Add(-m.cfg.StaleRunning)

	// Collect candidates before proposing anything: sweeping moves runs
	// out of Running, which would shift offset pagination underneath
	// the listing.
	const page = 200
	var stale []*orchestration.Run
	for offset := 0; ; offset += page {
		runs, err := m.store.ListRuns(ctx, stores.RunFilter{
			StateType: orchestration.StateRunning,
			Limit:     page,
			Offset:    offset,
		})
		if err != nil {
			return 0, fmt.Errorf("list running runs: %w", err)
		}
		for _, run := range runs {
			if !run.State.Timestamp.After(cutoff) {
				stale = append(stale, run)
			}
		}
		if len(runs) < page {
			break
		}
	}

	swept := 0
	for _, run := range stale {
		crashed := orchestration.Crashed(now, fmt.Sprintf("no progress since %s", run.State.Timestamp.Format(time.RFC3339)))
		outcome, err := m.pipeline.ProposeTransition(ctx, run.ID, crashed, orchestration.Context{Actor: "sweeper"})
		if err != nil {
			m.logger.WithRunID(run.ID).WithError(err).Error("crash sweep failed")
			continue
		}
		if outcome.Kind != orchestration.OutcomeRejected {
			swept++
			m.logger.WithRunID(run.ID).Warn("stale running run marked crashed")
		}
	}
	if m.metrics != nil && swept > 0 {
		m.metrics.RunsSweptCrashed(swept)
	}
	return swept, nil
}
