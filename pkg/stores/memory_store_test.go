package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowmark/flowmark/pkg/orchestration"
	"github.com/flowmark/flowmark/pkg/schedule"
	"github.com/flowmark/flowmark/pkg/slots"
)

func TestMemoryStoreCompareAndCommit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	run := testRun("run-1", now)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := store.CreateRun(ctx, run); !errors.Is(err, orchestration.ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}

	next := orchestration.Running(now.Add(time.Second))
	commit := orchestration.Commit{
		NewState:      next,
		History:       []orchestration.TransitionRecord{{State: next}},
		RunCountDelta: 1,
	}
	if err := store.CompareAndCommit(ctx, "run-1", 1, commit); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := store.CompareAndCommit(ctx, "run-1", 1, commit); !errors.Is(err, orchestration.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := store.CompareAndCommit(ctx, "missing", 1, commit); !errors.Is(err, orchestration.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	updated, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to reload run: %v", err)
	}
	if updated.Version != 2 || updated.State.Type != orchestration.StateRunning || updated.RunCount != 1 {
		t.Errorf("unexpected run after commit: version=%d state=%s count=%d",
			updated.Version, updated.State.Type, updated.RunCount)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	run := testRun("run-1", now)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	loaded, _ := store.GetRun(ctx, "run-1")
	loaded.Name = "mutated"
	loaded.Tags[0] = "mutated"

	fresh, _ := store.GetRun(ctx, "run-1")
	if fresh.Name == "mutated" || fresh.Tags[0] == "mutated" {
		t.Error("store handed out its internal run instead of a copy")
	}
}

func TestMemoryStoreIdempotencyKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	first := testRun("run-1", now)
	first.IdempotencyKey = "sched-1:occ-1"
	if err := store.CreateRun(ctx, first); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	dup := testRun("run-2", now)
	dup.IdempotencyKey = "sched-1:occ-1"
	if err := store.CreateRun(ctx, dup); !errors.Is(err, orchestration.ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
}

func TestMemoryStoreListRuns(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	pending := testRun("run-a", base)
	running := testRun("run-b", base.Add(time.Second))
	running.State = orchestration.Running(base.Add(time.Second))
	running.StateHistory = []orchestration.TransitionRecord{{State: running.State}}

	for _, r := range []*orchestration.Run{pending, running} {
		if err := store.CreateRun(ctx, r); err != nil {
			t.Fatalf("failed to create %s: %v", r.ID, err)
		}
	}

	got, err := store.ListRuns(ctx, RunFilter{StateType: orchestration.StateRunning})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "run-b" {
		t.Errorf("expected [run-b], got %v", runIDs(got))
	}

	all, _ := store.ListRuns(ctx, RunFilter{})
	if len(all) != 2 {
		t.Errorf("expected 2 runs, got %d", len(all))
	}
	// Most recently updated first.
	if all[0].ID != "run-b" {
		t.Errorf("expected run-b first, got %v", runIDs(all))
	}
}

func TestMemoryStoreSlotsAndLimits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.UpsertLimit(ctx, slots.Limit{Scope: "database", MaxSlots: 1}); err != nil {
		t.Fatalf("failed to set limit: %v", err)
	}

	ok, err := store.TryAcquire(ctx, "run-1", []string{"database"})
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed, got ok=%v err=%v", ok, err)
	}
	ok, _ = store.TryAcquire(ctx, "run-2", []string{"database"})
	if ok {
		t.Fatal("acquire should fail while scope is full")
	}
	if err := store.Release(ctx, "run-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, _ = store.TryAcquire(ctx, "run-2", []string{"database"})
	if !ok {
		t.Fatal("acquire after release should succeed")
	}

	limits, err := store.ListLimits(ctx)
	if err != nil {
		t.Fatalf("failed to list limits: %v", err)
	}
	if len(limits) != 1 || limits[0].Scope != "database" {
		t.Errorf("unexpected limits: %+v", limits)
	}
}

func TestMemoryStoreScheduleCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	sched := &Schedule{
		ID:        "sched-1",
		Name:      "hourly",
		Spec:      schedule.Interval{Every: time.Hour, Anchor: now},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}

	loaded, err := store.GetSchedule(ctx, "sched-1")
	if err != nil {
		t.Fatalf("failed to get schedule: %v", err)
	}
	loaded.Active = false
	if err := store.UpdateSchedule(ctx, loaded); err != nil {
		t.Fatalf("failed to update schedule: %v", err)
	}

	active, _ := store.ListSchedules(ctx, true)
	if len(active) != 0 {
		t.Errorf("expected no active schedules, got %d", len(active))
	}

	if err := store.DeleteSchedule(ctx, "sched-1"); err != nil {
		t.Fatalf("failed to delete schedule: %v", err)
	}
	if _, err := store.GetSchedule(ctx, "sched-1"); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestMemoryStoreCacheTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "report", "global", "results/abc", time.Nanosecond); err != nil {
		t.Fatalf("failed to put cache entry: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	entry, err := store.Get(ctx, "report", "global")
	if err != nil {
		t.Fatalf("get errored: %v", err)
	}
	if entry != nil {
		t.Errorf("expected expired entry to miss, got %+v", entry)
	}
}
