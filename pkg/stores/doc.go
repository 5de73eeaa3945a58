// Package stores provides the persistence layer: durable runs with an
// atomic compare-and-commit primitive, concurrency limits with slot
// holds, a result cache, schedules, and an append-only event log.
//
// SQLiteStore is the durable implementation, using WAL mode and
// embedded migrations. MemoryStore backs tests and embedded use. Both
// satisfy the orchestration package's RunStore, SlotManager, and
// CacheStore contracts, so one handle serves the whole pipeline.
package stores
