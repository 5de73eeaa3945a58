package slots

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	m := NewManager(Limit{Scope: "database", MaxSlots: 2})

	for _, id := range []string{"run-1", "run-2"} {
		ok, err := m.TryAcquire(ctx, id, []string{"database"})
		if err != nil || !ok {
			t.Fatalf("acquire for %s: ok=%v err=%v", id, ok, err)
		}
	}
	if ok, _ := m.TryAcquire(ctx, "run-3", []string{"database"}); ok {
		t.Fatal("third acquire should fail at max_slots=2")
	}

	if err := m.Release(ctx, "run-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if ok, _ := m.TryAcquire(ctx, "run-3", []string{"database"}); !ok {
		t.Fatal("slot should be free after release")
	}
}

func TestAcquireIsIdempotentPerRun(t *testing.T) {
	ctx := context.Background()
	m := NewManager(Limit{Scope: "database", MaxSlots: 1})

	if ok, _ := m.TryAcquire(ctx, "run-1", []string{"database"}); !ok {
		t.Fatal("first acquire should succeed")
	}
	// A duplicate signal must not double-count.
	if ok, _ := m.TryAcquire(ctx, "run-1", []string{"database"}); !ok {
		t.Fatal("re-acquire by the holder should be a no-op success")
	}
	if m.InUse("database") != 1 {
		t.Fatalf("expected occupancy 1, got %d", m.InUse("database"))
	}

	// Duplicate scopes in one request count once too.
	m2 := NewManager(Limit{Scope: "gpu", MaxSlots: 1})
	if ok, _ := m2.TryAcquire(ctx, "run-1", []string{"gpu", "gpu"}); !ok {
		t.Fatal("duplicate scopes in one acquire should collapse")
	}
	if m2.InUse("gpu") != 1 {
		t.Fatalf("expected occupancy 1, got %d", m2.InUse("gpu"))
	}
}

func TestReleaseUnknownRunIsNoop(t *testing.T) {
	m := NewManager(Limit{Scope: "database", MaxSlots: 1})
	if err := m.Release(context.Background(), "never-acquired"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMultiScopeAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewManager(
		Limit{Scope: "database", MaxSlots: 1},
		Limit{Scope: "gpu", MaxSlots: 1},
	)

	if ok, _ := m.TryAcquire(ctx, "run-1", []string{"gpu"}); !ok {
		t.Fatal("gpu acquire should succeed")
	}

	// run-2 needs both; gpu is full, so it must not hold database either.
	if ok, _ := m.TryAcquire(ctx, "run-2", []string{"database", "gpu"}); ok {
		t.Fatal("partial acquisition must not succeed")
	}
	if m.InUse("database") != 0 {
		t.Fatalf("failed acquire leaked a database slot: occupancy %d", m.InUse("database"))
	}
}

func TestUnlimitedScope(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	for i := 0; i < 100; i++ {
		if ok, _ := m.TryAcquire(ctx, fmt.Sprintf("run-%d", i), []string{"anything"}); !ok {
			t.Fatalf("unlimited scope refused acquire %d", i)
		}
	}
}

func TestZeroSlotScopeAdmitsNothing(t *testing.T) {
	m := NewManager(Limit{Scope: "frozen", MaxSlots: 0})
	if ok, _ := m.TryAcquire(context.Background(), "run-1", []string{"frozen"}); ok {
		t.Fatal("zero-slot scope must admit nothing")
	}
}

func TestShrinkingLimitNeverEvicts(t *testing.T) {
	ctx := context.Background()
	m := NewManager(Limit{Scope: "database", MaxSlots: 2})

	m.TryAcquire(ctx, "run-1", []string{"database"})
	m.TryAcquire(ctx, "run-2", []string{"database"})

	m.SetLimit("database", 1)
	if m.InUse("database") != 2 {
		t.Fatalf("shrinking must not evict holders, occupancy %d", m.InUse("database"))
	}
	if ok, _ := m.TryAcquire(ctx, "run-3", []string{"database"}); ok {
		t.Fatal("over-occupied scope must not admit new runs")
	}

	// Draining below the new limit re-opens the scope.
	m.Release(ctx, "run-1")
	m.Release(ctx, "run-2")
	if ok, _ := m.TryAcquire(ctx, "run-3", []string{"database"}); !ok {
		t.Fatal("drained scope should admit again")
	}
}

func TestReplaceSwapsLimitSet(t *testing.T) {
	ctx := context.Background()
	m := NewManager(Limit{Scope: "database", MaxSlots: 0})

	m.Replace([]Limit{{Scope: "gpu", MaxSlots: 1}})

	// database is unbounded now, gpu is limited.
	if ok, _ := m.TryAcquire(ctx, "run-1", []string{"database"}); !ok {
		t.Fatal("removed limit should leave the scope unbounded")
	}
	m.TryAcquire(ctx, "run-2", []string{"gpu"})
	if ok, _ := m.TryAcquire(ctx, "run-3", []string{"gpu"}); ok {
		t.Fatal("replaced limit should apply")
	}
}

func TestConcurrentAcquireNeverOversubscribes(t *testing.T) {
	ctx := context.Background()
	const maxSlots = 5
	m := NewManager(Limit{Scope: "database", MaxSlots: maxSlots})

	var wg sync.WaitGroup
	acquired := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", i)
			if ok, _ := m.TryAcquire(ctx, id, []string{"database"}); ok {
				acquired <- id
			}
		}(i)
	}
	wg.Wait()
	close(acquired)

	var winners []string
	for id := range acquired {
		winners = append(winners, id)
	}
	if len(winners) != maxSlots {
		t.Fatalf("expected exactly %d winners, got %d", maxSlots, len(winners))
	}
	if m.InUse("database") != maxSlots {
		t.Fatalf("occupancy %d does not match winners", m.InUse("database"))
	}

	for _, id := range winners {
		m.Release(ctx, id)
	}
	if m.InUse("database") != 0 {
		t.Fatalf("expected empty scope after releases, occupancy %d", m.InUse("database"))
	}
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewManager(
		Limit{Scope: "database", MaxSlots: 2},
		Limit{Scope: "network", MaxSlots: 5},
	)

	m.TryAcquire(ctx, "run-1", []string{"database"})
	m.TryAcquire(ctx, "run-2", []string{"database", "network"})

	snap := m.Snapshot()
	if snap["database"] != 2 {
		t.Errorf("expected database occupancy 2, got %d", snap["database"])
	}
	if snap["network"] != 1 {
		t.Errorf("expected network occupancy 1, got %d", snap["network"])
	}
}
