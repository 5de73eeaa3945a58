package materializer

import (
	"context"
	"testing"
	"time"

	"github.com/flowmark/flowmark/pkg/clock"
	"github.com/flowmark/flowmark/pkg/orchestration"
	"github.com/flowmark/flowmark/pkg/schedule"
	"github.com/flowmark/flowmark/pkg/stores"
)

func newTestMaterializer(t *testing.T, clk clock.Clock, cfg Config) (*Materializer, *stores.MemoryStore, *orchestration.Pipeline) {
	t.Helper()

	store := stores.NewMemoryStore()
	rules := orchestration.BaseRules(store, store, orchestration.DefaultBackoff)
	pipeline := orchestration.NewPipeline(store, rules, clk, nil, nil, orchestration.DefaultPipelineConfig())
	return New(store, pipeline, clk, nil, nil, cfg), store, pipeline
}

func intervalSchedule(id string, every time.Duration, anchor time.Time) *stores.Schedule {
	return &stores.Schedule{
		ID:        id,
		Name:      "test-schedule",
		Spec:      schedule.Interval{Every: every, Anchor: anchor},
		Active:    true,
		Retries:   1,
		CreatedAt: anchor,
		UpdatedAt: anchor,
	}
}

func TestMaterializeDueCreatesRunsInHorizon(t *testing.T) {
	anchor := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(anchor)
	m, store, _ := newTestMaterializer(t, clk, Config{Horizon: time.Hour, MaxPerSchedule: 100, StaleRunning: time.Hour})

	ctx := context.Background()
	if err := store.CreateSchedule(ctx, intervalSchedule("sched-1", 15*time.Minute, anchor)); err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}

	created, err := m.MaterializeDue(ctx)
	if err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	// Occurrences strictly after anchor and within one hour: :15, :30,
	// :45, :60.
	if created != 4 {
		t.Fatalf("expected 4 runs, got %d", created)
	}

	runs, err := store.ListRuns(ctx, stores.RunFilter{ScheduleID: "sched-1"})
	if err != nil {
		t.Fatalf("list runs failed: %v", err)
	}
	if len(runs) != 4 {
		t.Fatalf("expected 4 stored runs, got %d", len(runs))
	}
	for _, run := range runs {
		if run.State.Type != orchestration.StateScheduled {
			t.Errorf("run %s: expected scheduled, got %s", run.ID, run.State.Type)
		}
		if run.State.ScheduledTime == nil {
			t.Errorf("run %s: missing scheduled time", run.ID)
		}
		if run.RetriesRemaining != 1 {
			t.Errorf("run %s: expected 1 retry from schedule template, got %d", run.ID, run.RetriesRemaining)
		}
	}
}

func TestMaterializeDueIsIdempotent(t *testing.T) {
	anchor := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(anchor)
	m, store, _ := newTestMaterializer(t, clk, Config{Horizon: time.Hour, MaxPerSchedule: 100, StaleRunning: time.Hour})

	ctx := context.Background()
	if err := store.CreateSchedule(ctx, intervalSchedule("sched-1", 30*time.Minute, anchor)); err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}

	first, err := m.MaterializeDue(ctx)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if first != 2 {
		t.Fatalf("expected 2 runs on first pass, got %d", first)
	}

	// Second pass over the same window creates nothing.
	second, err := m.MaterializeDue(ctx)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected 0 runs on second pass, got %d", second)
	}

	// Advancing halfway exposes one new occurrence at the horizon edge.
	clk.Advance(30 * time.Minute)
	third, err := m.MaterializeDue(ctx)
	if err != nil {
		t.Fatalf("third pass failed: %v", err)
	}
	if third != 1 {
		t.Fatalf("expected 1 new run after advancing, got %d", third)
	}
}

func TestMaterializeSkipsInactiveSchedules(t *testing.T) {
	anchor := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(anchor)
	m, store, _ := newTestMaterializer(t, clk, Config{Horizon: time.Hour, MaxPerSchedule: 100, StaleRunning: time.Hour})

	ctx := context.Background()
	sched := intervalSchedule("sched-1", 10*time.Minute, anchor)
	sched.Active = false
	if err := store.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}

	created, err := m.MaterializeDue(ctx)
	if err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	if created != 0 {
		t.Fatalf("inactive schedule produced %d runs", created)
	}
}

func TestMaterializeBoundsPerSchedulePass(t *testing.T) {
	anchor := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(anchor)
	m, store, _ := newTestMaterializer(t, clk, Config{Horizon: 24 * time.Hour, MaxPerSchedule: 5, StaleRunning: time.Hour})

	ctx := context.Background()
	if err := store.CreateSchedule(ctx, intervalSchedule("sched-1", time.Minute, anchor)); err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}

	created, err := m.MaterializeDue(ctx)
	if err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	if created != 5 {
		t.Fatalf("expected pass bounded at 5 runs, got %d", created)
	}
}

func TestSweepCrashed(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	m, _, pipeline := newTestMaterializer(t, clk, Config{Horizon: time.Hour, MaxPerSchedule: 10, StaleRunning: 15 * time.Minute})

	ctx := context.Background()
	tctx := orchestration.Context{Actor: "test"}

	stale, err := pipeline.CreateRun(ctx, orchestration.CreateParams{Name: "stale", Initial: orchestration.Pending(clk.Now())}, tctx)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if _, err := pipeline.ProposeTransition(ctx, stale.ID, orchestration.Running(clk.Now()), tctx); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	// A second run starts later and is still fresh at sweep time.
	clk.Advance(20 * time.Minute)
	fresh, err := pipeline.CreateRun(ctx, orchestration.CreateParams{Name: "fresh", Initial: orchestration.Pending(clk.Now())}, tctx)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if _, err := pipeline.ProposeTransition(ctx, fresh.ID, orchestration.Running(clk.Now()), tctx); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	swept, err := m.SweepCrashed(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept run, got %d", swept)
	}

	staleAfter, _ := m.store.GetRun(ctx, stale.ID)
	if staleAfter.State.Type != orchestration.StateCrashed {
		t.Errorf("stale run should be crashed, got %s", staleAfter.State.Type)
	}
	freshAfter, _ := m.store.GetRun(ctx, fresh.ID)
	if freshAfter.State.Type != orchestration.StateRunning {
		t.Errorf("fresh run should still be running, got %s", freshAfter.State.Type)
	}
}

func TestDedupKeyIsStable(t *testing.T) {
	occ := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	key := DedupKey("sched-1", occ)
	want := "sched-1:2026-03-01T11:00:00Z"
	if key != want {
		t.Errorf("expected %s, got %s", want, key)
	}
	// The same instant in another zone yields the same key.
	if DedupKey("sched-1", occ.UTC()) != key {
		t.Error("dedup key depends on the zone representation")
	}
}
