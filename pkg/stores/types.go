package stores

import (
	"context"
	"errors"
	"time"

	"github.com/flowmark/flowmark/pkg/orchestration"
	"github.com/flowmark/flowmark/pkg/schedule"
	"github.com/flowmark/flowmark/pkg/slots"
)

// ErrScheduleNotFound is returned when a schedule id does not exist.
var ErrScheduleNotFound = errors.New("schedule not found")

// ErrScheduleExists is returned by create when the schedule id is
// already taken.
var ErrScheduleExists = errors.New("schedule already exists")

// Schedule is a persisted recurrence schedule plus the template for the
// runs materialized from it.
type Schedule struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Spec is the validated recurrence specification.
	Spec schedule.Spec `json:"spec"`

	// Active schedules are materialized; inactive ones are kept but
	// produce no new runs.
	Active bool `json:"active"`

	// Tags, CacheKey, CacheTTL, and Retries seed the runs created from
	// this schedule.
	Tags     []string      `json:"tags,omitempty"`
	CacheKey string        `json:"cache_key,omitempty"`
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`
	Retries  int           `json:"retries"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunFilter selects runs for listing. Zero-valued fields match
// everything.
type RunFilter struct {
	// StateType filters by current state type when non-empty.
	StateType orchestration.StateType

	// ScheduleID filters runs materialized from one schedule.
	ScheduleID string

	// ParentID filters task runs by their owning flow run.
	ParentID string

	// Limit and Offset paginate. Limit <= 0 uses a default page size.
	Limit  int
	Offset int
}

// EventLevel represents the severity level of an event.
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Event is one entry of the append-only orchestration log. Every
// committed transition appends one.
type Event struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Rule      string     `json:"rule,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer. It subsumes
// the orchestration-facing contracts so one store backs the pipeline,
// the concurrency rule, and the cache rule.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations (orchestration.RunStore)
	GetRun(ctx context.Context, id string) (*orchestration.Run, error)
	CreateRun(ctx context.Context, run *orchestration.Run) error
	CompareAndCommit(ctx context.Context, id string, expectedVersion int64, commit orchestration.Commit) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*orchestration.Run, error)

	// Concurrency slot operations (orchestration.SlotManager)
	TryAcquire(ctx context.Context, runID string, scopes []string) (bool, error)
	Release(ctx context.Context, runID string) error
	UpsertLimit(ctx context.Context, limit slots.Limit) error
	DeleteLimit(ctx context.Context, scope string) error
	ListLimits(ctx context.Context) ([]slots.Limit, error)

	// Result cache operations (orchestration.CacheStore)
	Get(ctx context.Context, key, scope string) (*orchestration.CacheEntry, error)
	Put(ctx context.Context, key, scope, resultRef string, ttl time.Duration) error

	// Schedule operations
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, onlyActive bool) ([]*Schedule, error)
	UpdateSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, id string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID string, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
