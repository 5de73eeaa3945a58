package stores

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowmark/flowmark/pkg/orchestration"
	"github.com/flowmark/flowmark/pkg/slots"
)

// MemoryStore implements the Store interface in memory. It backs tests
// and embedded single-process use; nothing survives a restart.
type MemoryStore struct {
	mu sync.Mutex

	runs       map[string]*orchestration.Run
	byIdemKey  map[string]string
	schedules  map[string]*Schedule
	limits     map[string]int
	cache      map[cacheKey]orchestration.CacheEntry
	events     []*Event
	nextEvent  int64
	slotHolder *slots.Manager
}

type cacheKey struct {
	key   string
	scope string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:       make(map[string]*orchestration.Run),
		byIdemKey:  make(map[string]string),
		schedules:  make(map[string]*Schedule),
		limits:     make(map[string]int),
		cache:      make(map[cacheKey]orchestration.CacheEntry),
		nextEvent:  1,
		slotHolder: slots.NewManager(),
	}
}

// Init is a no-op for the in-memory store.
func (s *MemoryStore) Init(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

func cloneRun(run *orchestration.Run) *orchestration.Run {
	out := *run
	out.StateHistory = append([]orchestration.TransitionRecord(nil), run.StateHistory...)
	out.Tags = append([]string(nil), run.Tags...)
	return &out
}

// CreateRun persists a new run with its initial state and history.
func (s *MemoryStore) CreateRun(_ context.Context, run *orchestration.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return orchestration.ErrRunExists
	}
	if run.IdempotencyKey != "" {
		if _, ok := s.byIdemKey[run.IdempotencyKey]; ok {
			return orchestration.ErrRunExists
		}
		s.byIdemKey[run.IdempotencyKey] = run.ID
	}
	s.runs[run.ID] = cloneRun(run)
	s.appendTransitionEventsLocked(run.ID, run.StateHistory)
	return nil
}

// GetRun loads a run by id.
func (s *MemoryStore) GetRun(_ context.Context, id string) (*orchestration.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, orchestration.ErrRunNotFound
	}
	return cloneRun(run), nil
}

// CompareAndCommit atomically applies a transition commit under the
// store lock, failing with ErrVersionConflict when the stored version
// moved.
func (s *MemoryStore) CompareAndCommit(_ context.Context, id string, expectedVersion int64, commit orchestration.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return orchestration.ErrRunNotFound
	}
	if run.Version != expectedVersion {
		return orchestration.ErrVersionConflict
	}

	run.State = commit.NewState
	run.StateHistory = append(run.StateHistory, commit.History...)
	run.Version++
	run.RunCount += commit.RunCountDelta
	run.RetriesRemaining += commit.RetriesRemainingDelta
	if run.RetriesRemaining < 0 {
		run.RetriesRemaining = 0
	}
	run.UpdatedAt = commit.NewState.Timestamp

	s.appendTransitionEventsLocked(id, commit.History)
	return nil
}

func (s *MemoryStore) appendTransitionEventsLocked(runID string, entries []orchestration.TransitionRecord) {
	for _, rec := range entries {
		level := EventLevelInfo
		if rec.State.Type == orchestration.StateFailed || rec.State.Type == orchestration.StateCrashed {
			level = EventLevelError
		}
		msg := "entered " + string(rec.State.Type)
		if rec.Reason != "" {
			msg += ": " + rec.Reason
		}
		s.events = append(s.events, &Event{
			ID:        s.nextEvent,
			RunID:     runID,
			Level:     level,
			Message:   msg,
			Rule:      rec.Rule,
			Timestamp: rec.State.Timestamp,
		})
		s.nextEvent++
	}
}

// ListRuns lists runs matching the filter, most recently updated first.
func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*orchestration.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*orchestration.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.StateType != "" && run.State.Type != filter.StateType {
			continue
		}
		if filter.ScheduleID != "" && run.ScheduleID != filter.ScheduleID {
			continue
		}
		if filter.ParentID != "" && run.ParentID != filter.ParentID {
			continue
		}
		matched = append(matched, run)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if filter.Offset >= len(matched) {
		return []*orchestration.Run{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*orchestration.Run, 0, len(matched))
	for _, run := range matched {
		out = append(out, cloneRun(run))
	}
	return out, nil
}

// TryAcquire takes one slot in every given scope, or none at all.
func (s *MemoryStore) TryAcquire(ctx context.Context, runID string, scopes []string) (bool, error) {
	return s.slotHolder.TryAcquire(ctx, runID, scopes)
}

// Release returns every slot held by the run.
func (s *MemoryStore) Release(ctx context.Context, runID string) error {
	return s.slotHolder.Release(ctx, runID)
}

// UpsertLimit creates or updates a concurrency limit.
func (s *MemoryStore) UpsertLimit(_ context.Context, limit slots.Limit) error {
	s.mu.Lock()
	s.limits[limit.Scope] = limit.MaxSlots
	s.mu.Unlock()
	s.slotHolder.SetLimit(limit.Scope, limit.MaxSlots)
	return nil
}

// DeleteLimit removes a concurrency limit.
func (s *MemoryStore) DeleteLimit(_ context.Context, scope string) error {
	s.mu.Lock()
	delete(s.limits, scope)
	s.mu.Unlock()
	s.slotHolder.RemoveLimit(scope)
	return nil
}

// ListLimits returns every configured concurrency limit.
func (s *MemoryStore) ListLimits(context.Context) ([]slots.Limit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limits := make([]slots.Limit, 0, len(s.limits))
	for scope, maxSlots := range s.limits {
		limits = append(limits, slots.Limit{Scope: scope, MaxSlots: maxSlots})
	}
	sort.Slice(limits, func(i, j int) bool { return limits[i].Scope < limits[j].Scope })
	return limits, nil
}

// Get returns the cache entry for (key, scope), or nil when absent or
// expired.
func (s *MemoryStore) Get(_ context.Context, key, scope string) (*orchestration.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[cacheKey{key, scope}]
	if !ok {
		return nil, nil
	}
	if entry.Expired(time.Now()) {
		delete(s.cache, cacheKey{key, scope})
		return nil, nil
	}
	out := entry
	return &out, nil
}

// Put stores a result for (key, scope), replacing any previous entry.
func (s *MemoryStore) Put(_ context.Context, key, scope, resultRef string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[cacheKey{key, scope}] = orchestration.CacheEntry{
		ResultRef: resultRef,
		StoredAt:  time.Now(),
		TTL:       ttl,
	}
	return nil
}

func cloneSchedule(sched *Schedule) *Schedule {
	out := *sched
	out.Tags = append([]string(nil), sched.Tags...)
	return &out
}

// CreateSchedule persists a new schedule.
func (s *MemoryStore) CreateSchedule(_ context.Context, sched *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[sched.ID]; ok {
		return ErrScheduleExists
	}
	s.schedules[sched.ID] = cloneSchedule(sched)
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *MemoryStore) GetSchedule(_ context.Context, id string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return cloneSchedule(sched), nil
}

// ListSchedules lists schedules, optionally restricted to active ones.
func (s *MemoryStore) ListSchedules(_ context.Context, onlyActive bool) ([]*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		if onlyActive && !sched.Active {
			continue
		}
		out = append(out, cloneSchedule(sched))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateSchedule replaces a schedule's definition.
func (s *MemoryStore) UpdateSchedule(_ context.Context, sched *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[sched.ID]; !ok {
		return ErrScheduleNotFound
	}
	s.schedules[sched.ID] = cloneSchedule(sched)
	return nil
}

// DeleteSchedule deletes a schedule by ID.
func (s *MemoryStore) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return ErrScheduleNotFound
	}
	delete(s.schedules, id)
	return nil
}

// AppendEvent appends a new event to the log.
func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = s.nextEvent
	s.nextEvent++
	stored := *event
	s.events = append(s.events, &stored)
	return nil
}

// ListEvents retrieves events, newest first, optionally filtered by
// run.
func (s *MemoryStore) ListEvents(_ context.Context, runID string, limit, offset int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	matched := make([]*Event, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		if runID != "" && s.events[i].RunID != runID {
			continue
		}
		matched = append(matched, s.events[i])
	}
	if offset >= len(matched) {
		return []*Event{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*Event, 0, len(matched))
	for _, event := range matched {
		copied := *event
		out = append(out, &copied)
	}
	return out, nil
}
