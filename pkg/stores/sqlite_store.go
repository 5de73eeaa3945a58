package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/flowmark/flowmark/pkg/orchestration"
	"github.com/flowmark/flowmark/pkg/schedule"
	"github.com/flowmark/flowmark/pkg/slots"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode. The pragmas
// use the modernc driver's _pragma=name(value) form so they apply to
// every pooled connection; busy_timeout makes concurrent writers wait
// instead of failing immediately.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_txlock=immediate"+
		"&_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=foreign_keys(1)"+
		"&_pragma=synchronous(NORMAL)", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// An in-memory database exists per connection; a pool of them would
	// be a pool of unrelated databases.
	if s.path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded migration files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure. The modernc driver surfaces these as plain errors, so string
// matching is the only handle.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseStoredTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// CreateRun persists a new run with its initial state and history.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *orchestration.Run) error {
	stateJSON, err := json.Marshal(run.State)
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}
	tagsJSON, err := json.Marshal(run.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode run tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO runs (
			id, idempotency_key, name, schedule_id, parent_id,
			state_type, state, version, run_count, retries_remaining,
			tags, cache_key, cache_ttl_ns, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		run.ID,
		run.IdempotencyKey,
		run.Name,
		run.ScheduleID,
		run.ParentID,
		string(run.State.Type),
		string(stateJSON),
		run.Version,
		run.RunCount,
		run.RetriesRemaining,
		string(tagsJSON),
		run.CacheKey,
		int64(run.CacheTTL),
		formatTime(run.CreatedAt),
		formatTime(run.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return orchestration.ErrRunExists
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	if err := insertHistory(ctx, tx, run.ID, 1, run.StateHistory); err != nil {
		return err
	}
	if err := insertTransitionEvents(ctx, tx, run.ID, run.StateHistory); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run create: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID, including its state history.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*orchestration.Run, error) {
	query := `
		SELECT id, idempotency_key, name, schedule_id, parent_id,
			   state, version, run_count, retries_remaining,
			   tags, cache_key, cache_ttl_ns, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &orchestration.Run{}
	var stateJSON, tagsJSON, createdAt, updatedAt string
	var cacheTTL int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.IdempotencyKey,
		&run.Name,
		&run.ScheduleID,
		&run.ParentID,
		&stateJSON,
		&run.Version,
		&run.RunCount,
		&run.RetriesRemaining,
		&tagsJSON,
		&run.CacheKey,
		&cacheTTL,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orchestration.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &run.State); err != nil {
		return nil, orchestration.NewCorruptError("undecodable run state", err).WithRun(id)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &run.Tags); err != nil {
		return nil, orchestration.NewCorruptError("undecodable run tags", err).WithRun(id)
	}
	run.CacheTTL = time.Duration(cacheTTL)
	if run.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, orchestration.NewCorruptError("undecodable created_at", err).WithRun(id)
	}
	if run.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
		return nil, orchestration.NewCorruptError("undecodable updated_at", err).WithRun(id)
	}

	history, err := s.loadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	run.StateHistory = history
	return run, nil
}

func (s *SQLiteStore) loadHistory(ctx context.Context, runID string) ([]orchestration.TransitionRecord, error) {
	query := `
		SELECT state, reason, rule
		FROM run_history
		WHERE run_id = ?
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}
	defer rows.Close()

	var history []orchestration.TransitionRecord
	for rows.Next() {
		var stateJSON string
		var rec orchestration.TransitionRecord
		if err := rows.Scan(&stateJSON, &rec.Reason, &rec.Rule); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
			return nil, orchestration.NewCorruptError("undecodable history state", err).WithRun(runID)
		}
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run history: %w", err)
	}
	return history, nil
}

// CompareAndCommit atomically applies a transition commit. The update
// is guarded on the stored version so a concurrent writer makes this
// fail with ErrVersionConflict and write nothing.
func (s *SQLiteStore) CompareAndCommit(ctx context.Context, id string, expectedVersion int64, commit orchestration.Commit) error {
	stateJSON, err := json.Marshal(commit.NewState)
	if err != nil {
		return fmt.Errorf("failed to encode new state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE runs
		SET state_type = ?, state = ?, version = version + 1,
			run_count = run_count + ?,
			retries_remaining = MAX(0, retries_remaining + ?),
			updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := tx.ExecContext(ctx, query,
		string(commit.NewState.Type),
		string(stateJSON),
		commit.RunCountDelta,
		commit.RetriesRemainingDelta,
		formatTime(commit.NewState.Timestamp),
		id,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return orchestration.ErrRunNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check run existence: %w", err)
		}
		return orchestration.ErrVersionConflict
	}

	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM run_history WHERE run_id = ?`, id,
	).Scan(&maxSeq); err != nil {
		return fmt.Errorf("failed to read history sequence: %w", err)
	}

	if err := insertHistory(ctx, tx, id, maxSeq+1, commit.History); err != nil {
		return err
	}
	if err := insertTransitionEvents(ctx, tx, id, commit.History); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, runID string, firstSeq int64, entries []orchestration.TransitionRecord) error {
	query := `
		INSERT INTO run_history (run_id, seq, state, reason, rule)
		VALUES (?, ?, ?, ?, ?)
	`
	for i, rec := range entries {
		stateJSON, err := json.Marshal(rec.State)
		if err != nil {
			return fmt.Errorf("failed to encode history state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, runID, firstSeq+int64(i), string(stateJSON), rec.Reason, rec.Rule); err != nil {
			return fmt.Errorf("failed to append history entry: %w", err)
		}
	}
	return nil
}

// insertTransitionEvents mirrors each committed history entry into the
// event log, inside the same transaction so the log never disagrees
// with the history.
func insertTransitionEvents(ctx context.Context, tx *sql.Tx, runID string, entries []orchestration.TransitionRecord) error {
	query := `
		INSERT INTO events (run_id, level, message, rule, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, rec := range entries {
		level := EventLevelInfo
		if rec.State.Type == orchestration.StateFailed || rec.State.Type == orchestration.StateCrashed {
			level = EventLevelError
		}
		msg := fmt.Sprintf("entered %s", rec.State.Type)
		if rec.Reason != "" {
			msg += ": " + rec.Reason
		}
		if _, err := tx.ExecContext(ctx, query, runID, string(level), msg, rec.Rule, formatTime(rec.State.Timestamp)); err != nil {
			return fmt.Errorf("failed to append transition event: %w", err)
		}
	}
	return nil
}

// ListRuns lists runs matching the filter, most recently updated first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*orchestration.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id
		FROM runs
		WHERE (? = '' OR state_type = ?)
		  AND (? = '' OR schedule_id = ?)
		  AND (? = '' OR parent_id = ?)
		ORDER BY updated_at DESC, id ASC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query,
		string(filter.StateType), string(filter.StateType),
		filter.ScheduleID, filter.ScheduleID,
		filter.ParentID, filter.ParentID,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	runs := make([]*orchestration.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// TryAcquire takes one slot in every given scope, or none at all. The
// check-and-insert runs in a single immediate transaction, which is
// what makes multi-scope acquisition atomic across processes.
func (s *SQLiteStore) TryAcquire(ctx context.Context, runID string, scopes []string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var holding int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM slot_holds WHERE run_id = ?`, runID,
	).Scan(&holding); err != nil {
		return false, fmt.Errorf("failed to check existing holds: %w", err)
	}
	if holding > 0 {
		return true, nil
	}

	seen := make(map[string]bool, len(scopes))
	limited := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if seen[scope] {
			continue
		}
		seen[scope] = true

		var maxSlots int
		err := tx.QueryRowContext(ctx,
			`SELECT max_slots FROM concurrency_limits WHERE scope = ?`, scope,
		).Scan(&maxSlots)
		if errors.Is(err, sql.ErrNoRows) {
			continue // unbounded
		}
		if err != nil {
			return false, fmt.Errorf("failed to read limit: %w", err)
		}

		var inUse int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM slot_holds WHERE scope = ?`, scope,
		).Scan(&inUse); err != nil {
			return false, fmt.Errorf("failed to count holds: %w", err)
		}
		if inUse >= maxSlots {
			return false, nil
		}
		limited = append(limited, scope)
	}

	now := formatTime(time.Now())
	for _, scope := range limited {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO slot_holds (run_id, scope, acquired_at) VALUES (?, ?, ?)`,
			runID, scope, now,
		); err != nil {
			return false, fmt.Errorf("failed to record hold: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit holds: %w", err)
	}
	return true, nil
}

// Release returns every slot held by the run. Unknown run ids are a
// no-op.
func (s *SQLiteStore) Release(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM slot_holds WHERE run_id = ?`, runID,
	); err != nil {
		return fmt.Errorf("failed to release holds: %w", err)
	}
	return nil
}

// UpsertLimit creates or updates a concurrency limit. Shrinking below
// current occupancy never evicts holders.
func (s *SQLiteStore) UpsertLimit(ctx context.Context, limit slots.Limit) error {
	query := `
		INSERT INTO concurrency_limits (scope, max_slots)
		VALUES (?, ?)
		ON CONFLICT(scope) DO UPDATE SET max_slots = excluded.max_slots
	`
	if _, err := s.db.ExecContext(ctx, query, limit.Scope, limit.MaxSlots); err != nil {
		return fmt.Errorf("failed to upsert limit: %w", err)
	}
	return nil
}

// DeleteLimit removes a concurrency limit, making the scope unbounded.
func (s *SQLiteStore) DeleteLimit(ctx context.Context, scope string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM concurrency_limits WHERE scope = ?`, scope,
	); err != nil {
		return fmt.Errorf("failed to delete limit: %w", err)
	}
	return nil
}

// ListLimits returns every configured concurrency limit.
func (s *SQLiteStore) ListLimits(ctx context.Context) ([]slots.Limit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, max_slots FROM concurrency_limits ORDER BY scope ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list limits: %w", err)
	}
	defer rows.Close()

	limits := []slots.Limit{}
	for rows.Next() {
		var l slots.Limit
		if err := rows.Scan(&l.Scope, &l.MaxSlots); err != nil {
			return nil, fmt.Errorf("failed to scan limit: %w", err)
		}
		limits = append(limits, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating limits: %w", err)
	}
	return limits, nil
}

// Get returns the cache entry for (key, scope), or nil when absent or
// expired. Expired rows are pruned lazily on read.
func (s *SQLiteStore) Get(ctx context.Context, key, scope string) (*orchestration.CacheEntry, error) {
	query := `
		SELECT result_ref, stored_at, ttl_ns
		FROM cache_entries
		WHERE cache_key = ? AND scope = ?
	`
	var resultRef, storedAt string
	var ttl int64
	err := s.db.QueryRowContext(ctx, query, key, scope).Scan(&resultRef, &storedAt, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	entry := &orchestration.CacheEntry{ResultRef: resultRef, TTL: time.Duration(ttl)}
	if entry.StoredAt, err = parseStoredTime(storedAt); err != nil {
		return nil, fmt.Errorf("undecodable cache timestamp: %w", err)
	}
	if entry.Expired(time.Now()) {
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE cache_key = ? AND scope = ?`, key, scope)
		return nil, nil
	}
	return entry, nil
}

// Put stores a result for (key, scope), replacing any previous entry.
func (s *SQLiteStore) Put(ctx context.Context, key, scope, resultRef string, ttl time.Duration) error {
	query := `
		INSERT INTO cache_entries (cache_key, scope, result_ref, stored_at, ttl_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key, scope) DO UPDATE SET
			result_ref = excluded.result_ref,
			stored_at = excluded.stored_at,
			ttl_ns = excluded.ttl_ns
	`
	if _, err := s.db.ExecContext(ctx, query, key, scope, resultRef, formatTime(time.Now()), int64(ttl)); err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// CreateSchedule persists a new schedule.
func (s *SQLiteStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	kind, specJSON, err := schedule.MarshalSpec(sched.Spec)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(sched.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode schedule tags: %w", err)
	}

	query := `
		INSERT INTO schedules (
			id, name, spec_kind, spec, active, tags,
			cache_key, cache_ttl_ns, retries, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		sched.ID,
		sched.Name,
		string(kind),
		string(specJSON),
		sched.Active,
		string(tagsJSON),
		sched.CacheKey,
		int64(sched.CacheTTL),
		sched.Retries,
		formatTime(sched.CreatedAt),
		formatTime(sched.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrScheduleExists
		}
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	query := `
		SELECT id, name, spec_kind, spec, active, tags,
			   cache_key, cache_ttl_ns, retries, created_at, updated_at
		FROM schedules
		WHERE id = ?
	`
	return s.scanSchedule(s.db.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanSchedule(row rowScanner) (*Schedule, error) {
	sched := &Schedule{}
	var kind, specJSON, tagsJSON, createdAt, updatedAt string
	var cacheTTL int64
	err := row.Scan(
		&sched.ID,
		&sched.Name,
		&kind,
		&specJSON,
		&sched.Active,
		&tagsJSON,
		&sched.CacheKey,
		&cacheTTL,
		&sched.Retries,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	if sched.Spec, err = schedule.UnmarshalSpec(schedule.Kind(kind), []byte(specJSON)); err != nil {
		return nil, fmt.Errorf("stored schedule %s: %w", sched.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &sched.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode schedule tags: %w", err)
	}
	sched.CacheTTL = time.Duration(cacheTTL)
	if sched.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, fmt.Errorf("undecodable schedule created_at: %w", err)
	}
	if sched.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
		return nil, fmt.Errorf("undecodable schedule updated_at: %w", err)
	}
	return sched, nil
}

// ListSchedules lists schedules, optionally restricted to active ones.
func (s *SQLiteStore) ListSchedules(ctx context.Context, onlyActive bool) ([]*Schedule, error) {
	query := `
		SELECT id, name, spec_kind, spec, active, tags,
			   cache_key, cache_ttl_ns, retries, created_at, updated_at
		FROM schedules
		WHERE (? = 0 OR active = 1)
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, onlyActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	schedules := []*Schedule{}
	for rows.Next() {
		sched, err := s.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	return schedules, nil
}

// UpdateSchedule replaces a schedule's definition.
func (s *SQLiteStore) UpdateSchedule(ctx context.Context, sched *Schedule) error {
	kind, specJSON, err := schedule.MarshalSpec(sched.Spec)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(sched.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode schedule tags: %w", err)
	}

	query := `
		UPDATE schedules
		SET name = ?, spec_kind = ?, spec = ?, active = ?, tags = ?,
			cache_key = ?, cache_ttl_ns = ?, retries = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		sched.Name,
		string(kind),
		string(specJSON),
		sched.Active,
		string(tagsJSON),
		sched.CacheKey,
		int64(sched.CacheTTL),
		sched.Retries,
		formatTime(sched.UpdatedAt),
		sched.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule deletes a schedule by ID. Runs already materialized
// from it are kept.
func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// AppendEvent appends a new event to the log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, level, message, rule, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		string(event.Level),
		event.Message,
		event.Rule,
		formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return nil
}

// ListEvents retrieves events, newest first, optionally filtered by
// run.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, run_id, level, message, rule, timestamp
		FROM events
		WHERE (? = '' OR run_id = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, runID, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		var level, timestamp string
		if err := rows.Scan(&event.ID, &event.RunID, &level, &event.Message, &event.Rule, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Level = EventLevel(level)
		if event.Timestamp, err = parseStoredTime(timestamp); err != nil {
			return nil, fmt.Errorf("undecodable event timestamp: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
