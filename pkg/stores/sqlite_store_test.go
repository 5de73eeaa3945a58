package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowmark/flowmark/pkg/orchestration"
	"github.com/flowmark/flowmark/pkg/schedule"
	"github.com/flowmark/flowmark/pkg/slots"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func testRun(id string, now time.Time) *orchestration.Run {
	state := orchestration.Pending(now)
	return &orchestration.Run{
		ID:      id,
		Name:    "nightly-report",
		State:   state,
		Version: 1,
		StateHistory: []orchestration.TransitionRecord{
			{State: state, Reason: "created"},
		},
		RetriesRemaining: 2,
		Tags:             []string{"database"},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestInitAppliesPragmas verifies the DSN pragmas actually take effect
// on a file-backed database (an in-memory one always reports its own
// journal mode).
func TestInitAppliesPragmas(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "flowmark.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()

	var journalMode string
	if err := store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("failed to read journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode wal, got %q", journalMode)
	}

	var busyTimeout int
	if err := store.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("failed to read busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("expected busy_timeout 5000, got %d", busyTimeout)
	}

	var foreignKeys int
	if err := store.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("failed to read foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("expected foreign_keys on, got %d", foreignKeys)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"runs", "run_history", "schedules", "concurrency_limits", "slot_holds", "cache_entries", "events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestRunCreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	run := testRun("run-001", now)
	run.IdempotencyKey = "sched-1:2026-01-01T00:00:00Z"
	run.CacheKey = "report"
	run.CacheTTL = time.Hour

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved.ID != run.ID {
		t.Errorf("expected ID %s, got %s", run.ID, retrieved.ID)
	}
	if retrieved.State.Type != orchestration.StatePending {
		t.Errorf("expected state pending, got %s", retrieved.State.Type)
	}
	if retrieved.Version != 1 {
		t.Errorf("expected version 1, got %d", retrieved.Version)
	}
	if retrieved.CacheTTL != time.Hour {
		t.Errorf("expected cache ttl 1h, got %v", retrieved.CacheTTL)
	}
	if len(retrieved.StateHistory) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(retrieved.StateHistory))
	}
	if retrieved.StateHistory[0].Reason != "created" {
		t.Errorf("expected created reason, got %q", retrieved.StateHistory[0].Reason)
	}
	if err := retrieved.Validate(); err != nil {
		t.Errorf("retrieved run fails validation: %v", err)
	}
}

func TestRunGetMissing(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, err := store.GetRun(context.Background(), "no-such-run")
	if !errors.Is(err, orchestration.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunCreateDuplicateIdempotencyKey(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	first := testRun("run-001", now)
	first.IdempotencyKey = "sched-1:occurrence-1"
	if err := store.CreateRun(ctx, first); err != nil {
		t.Fatalf("failed to create first run: %v", err)
	}

	dup := testRun("run-002", now)
	dup.IdempotencyKey = "sched-1:occurrence-1"
	if err := store.CreateRun(ctx, dup); !errors.Is(err, orchestration.ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}

	// Empty keys never collide.
	a := testRun("run-003", now)
	b := testRun("run-004", now)
	if err := store.CreateRun(ctx, a); err != nil {
		t.Fatalf("failed to create run without key: %v", err)
	}
	if err := store.CreateRun(ctx, b); err != nil {
		t.Fatalf("second run without key should not collide: %v", err)
	}
}

func TestCompareAndCommit(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	run := testRun("run-001", now)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	next := orchestration.Running(now.Add(time.Second))
	commit := orchestration.Commit{
		NewState:      next,
		History:       []orchestration.TransitionRecord{{State: next, Rule: "lifecycle"}},
		RunCountDelta: 1,
	}
	if err := store.CompareAndCommit(ctx, run.ID, 1, commit); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	updated, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to reload run: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}
	if updated.State.Type != orchestration.StateRunning {
		t.Errorf("expected running, got %s", updated.State.Type)
	}
	if updated.RunCount != 1 {
		t.Errorf("expected run count 1, got %d", updated.RunCount)
	}
	if len(updated.StateHistory) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(updated.StateHistory))
	}

	// Stale version loses.
	if err := store.CompareAndCommit(ctx, run.ID, 1, commit); !errors.Is(err, orchestration.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// Unknown run is distinguished from a conflict.
	if err := store.CompareAndCommit(ctx, "no-such-run", 1, commit); !errors.Is(err, orchestration.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestCompareAndCommitFloorsRetries(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	run := testRun("run-001", now)
	run.RetriesRemaining = 0
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	next := orchestration.Running(now.Add(time.Second))
	commit := orchestration.Commit{
		NewState:              next,
		History:               []orchestration.TransitionRecord{{State: next}},
		RetriesRemainingDelta: -1,
	}
	if err := store.CompareAndCommit(ctx, run.ID, 1, commit); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	updated, _ := store.GetRun(ctx, run.ID)
	if updated.RetriesRemaining != 0 {
		t.Errorf("retries should floor at zero, got %d", updated.RetriesRemaining)
	}
}

func TestListRunsFilters(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	pending := testRun("run-a", base)
	pending.ScheduleID = "sched-1"

	running := testRun("run-b", base.Add(time.Second))
	running.State = orchestration.Running(base.Add(time.Second))
	running.StateHistory = []orchestration.TransitionRecord{{State: running.State}}

	child := testRun("run-c", base.Add(2*time.Second))
	child.ParentID = "run-b"

	for _, r := range []*orchestration.Run{pending, running, child} {
		if err := store.CreateRun(ctx, r); err != nil {
			t.Fatalf("failed to create %s: %v", r.ID, err)
		}
	}

	byState, err := store.ListRuns(ctx, RunFilter{StateType: orchestration.StateRunning})
	if err != nil {
		t.Fatalf("list by state failed: %v", err)
	}
	if len(byState) != 1 || byState[0].ID != "run-b" {
		t.Errorf("expected [run-b], got %v", runIDs(byState))
	}

	bySchedule, err := store.ListRuns(ctx, RunFilter{ScheduleID: "sched-1"})
	if err != nil {
		t.Fatalf("list by schedule failed: %v", err)
	}
	if len(bySchedule) != 1 || bySchedule[0].ID != "run-a" {
		t.Errorf("expected [run-a], got %v", runIDs(bySchedule))
	}

	byParent, err := store.ListRuns(ctx, RunFilter{ParentID: "run-b"})
	if err != nil {
		t.Fatalf("list by parent failed: %v", err)
	}
	if len(byParent) != 1 || byParent[0].ID != "run-c" {
		t.Errorf("expected [run-c], got %v", runIDs(byParent))
	}

	all, err := store.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 runs, got %d", len(all))
	}
}

func runIDs(runs []*orchestration.Run) []string {
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestSlotAcquireRelease(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.UpsertLimit(ctx, slots.Limit{Scope: "database", MaxSlots: 1}); err != nil {
		t.Fatalf("failed to set limit: %v", err)
	}

	ok, err := store.TryAcquire(ctx, "run-1", []string{"database", "unbounded"})
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed, got ok=%v err=%v", ok, err)
	}

	// Scope full: all-or-nothing means run-2 gets nothing.
	ok, err = store.TryAcquire(ctx, "run-2", []string{"unbounded", "database"})
	if err != nil {
		t.Fatalf("acquire errored: %v", err)
	}
	if ok {
		t.Fatal("acquire should fail while scope is full")
	}

	// Re-acquire by the holder is an idempotent success.
	ok, err = store.TryAcquire(ctx, "run-1", []string{"database"})
	if err != nil || !ok {
		t.Fatalf("re-acquire should succeed, got ok=%v err=%v", ok, err)
	}

	if err := store.Release(ctx, "run-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, err = store.TryAcquire(ctx, "run-2", []string{"database"})
	if err != nil || !ok {
		t.Fatalf("acquire after release should succeed, got ok=%v err=%v", ok, err)
	}

	// Releasing an unknown run is a no-op.
	if err := store.Release(ctx, "never-acquired"); err != nil {
		t.Fatalf("release of unknown run errored: %v", err)
	}
}

func TestLimitCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.UpsertLimit(ctx, slots.Limit{Scope: "gpu", MaxSlots: 2}); err != nil {
		t.Fatalf("failed to create limit: %v", err)
	}
	if err := store.UpsertLimit(ctx, slots.Limit{Scope: "gpu", MaxSlots: 4}); err != nil {
		t.Fatalf("failed to update limit: %v", err)
	}

	limits, err := store.ListLimits(ctx)
	if err != nil {
		t.Fatalf("failed to list limits: %v", err)
	}
	if len(limits) != 1 || limits[0].MaxSlots != 4 {
		t.Errorf("expected one limit of 4, got %+v", limits)
	}

	if err := store.DeleteLimit(ctx, "gpu"); err != nil {
		t.Fatalf("failed to delete limit: %v", err)
	}
	limits, _ = store.ListLimits(ctx)
	if len(limits) != 0 {
		t.Errorf("expected no limits, got %+v", limits)
	}
}

func TestCachePutGet(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.Put(ctx, "report", "global", "results/abc", time.Hour); err != nil {
		t.Fatalf("failed to put cache entry: %v", err)
	}

	entry, err := store.Get(ctx, "report", "global")
	if err != nil {
		t.Fatalf("failed to get cache entry: %v", err)
	}
	if entry == nil || entry.ResultRef != "results/abc" {
		t.Fatalf("expected results/abc, got %+v", entry)
	}

	// Different scope misses.
	entry, err = store.Get(ctx, "report", "tenant-a")
	if err != nil {
		t.Fatalf("get errored: %v", err)
	}
	if entry != nil {
		t.Errorf("expected miss for other scope, got %+v", entry)
	}

	// Expired entries are pruned on read.
	if err := store.Put(ctx, "stale", "global", "results/old", time.Nanosecond); err != nil {
		t.Fatalf("failed to put stale entry: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	entry, err = store.Get(ctx, "stale", "global")
	if err != nil {
		t.Fatalf("get errored: %v", err)
	}
	if entry != nil {
		t.Errorf("expected expired entry to miss, got %+v", entry)
	}
}

func TestScheduleCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	sched := &Schedule{
		ID:        "sched-1",
		Name:      "hourly-sync",
		Spec:      schedule.Interval{Every: time.Hour, Anchor: now},
		Active:    true,
		Tags:      []string{"sync"},
		Retries:   3,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := store.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}
	if err := store.CreateSchedule(ctx, sched); !errors.Is(err, ErrScheduleExists) {
		t.Fatalf("expected ErrScheduleExists, got %v", err)
	}

	retrieved, err := store.GetSchedule(ctx, "sched-1")
	if err != nil {
		t.Fatalf("failed to get schedule: %v", err)
	}
	if retrieved.Spec.Kind() != schedule.KindInterval {
		t.Errorf("expected interval spec, got %s", retrieved.Spec.Kind())
	}
	if retrieved.Retries != 3 {
		t.Errorf("expected 3 retries, got %d", retrieved.Retries)
	}

	retrieved.Active = false
	retrieved.UpdatedAt = now.Add(time.Minute)
	if err := store.UpdateSchedule(ctx, retrieved); err != nil {
		t.Fatalf("failed to update schedule: %v", err)
	}

	active, err := store.ListSchedules(ctx, true)
	if err != nil {
		t.Fatalf("failed to list schedules: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active schedules, got %d", len(active))
	}
	all, _ := store.ListSchedules(ctx, false)
	if len(all) != 1 {
		t.Errorf("expected 1 schedule, got %d", len(all))
	}

	if err := store.DeleteSchedule(ctx, "sched-1"); err != nil {
		t.Fatalf("failed to delete schedule: %v", err)
	}
	if _, err := store.GetSchedule(ctx, "sched-1"); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestTransitionEventsAppended(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	run := testRun("run-001", now)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	failed := orchestration.Failed(now.Add(time.Second), orchestration.FailurePermanent, "boom")
	commit := orchestration.Commit{
		NewState: failed,
		History:  []orchestration.TransitionRecord{{State: failed, Reason: "worker error"}},
	}
	if err := store.CompareAndCommit(ctx, run.ID, 1, commit); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	events, err := store.ListEvents(ctx, run.ID, 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Newest first.
	if events[0].Level != EventLevelError {
		t.Errorf("expected error level for failed transition, got %s", events[0].Level)
	}
}
