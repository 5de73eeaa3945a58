package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/flowmark/flowmark/pkg/orchestration"
	"github.com/flowmark/flowmark/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CreateRun demonstrates persisting a run.
func ExampleSQLiteStore_CreateRun() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now()
	state := orchestration.Pending(now)
	run := &orchestration.Run{
		ID:           "run-001",
		Name:         "nightly-report",
		State:        state,
		StateHistory: []orchestration.TransitionRecord{{State: state, Reason: "created"}},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	loaded, err := store.GetRun(ctx, "run-001")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(loaded.State.Type)
	// Output: pending
}
