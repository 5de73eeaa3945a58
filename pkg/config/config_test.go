package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse of empty config failed: %v", err)
	}
	if cfg.Database.Path != "flowmark.db" {
		t.Errorf("expected default database path, got %q", cfg.Database.Path)
	}
	if cfg.Pipeline.MaxCommitAttempts != 5 {
		t.Errorf("expected default commit attempts 5, got %d", cfg.Pipeline.MaxCommitAttempts)
	}
	if cfg.Materializer.Horizon.Std() != time.Hour {
		t.Errorf("expected default horizon 1h, got %v", cfg.Materializer.Horizon.Std())
	}
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`
database:
  path: /var/lib/flowmark/engine.db
pipeline:
  max_commit_attempts: 3
  backoff:
    base: 5s
    factor: 3
    cap: 2m
materializer:
  horizon: 30m
  max_per_schedule: 10
  stale_running: 5m
concurrency_limits:
  - scope: database
    max_slots: 2
  - scope: gpu
    max_slots: 1
telemetry:
  log_level: debug
  log_format: json
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Database.Path != "/var/lib/flowmark/engine.db" {
		t.Errorf("database path not applied: %q", cfg.Database.Path)
	}
	if cfg.Pipeline.Backoff.Base.Std() != 5*time.Second {
		t.Errorf("backoff base not applied: %v", cfg.Pipeline.Backoff.Base.Std())
	}
	if cfg.Materializer.Horizon.Std() != 30*time.Minute {
		t.Errorf("horizon not applied: %v", cfg.Materializer.Horizon.Std())
	}
	if len(cfg.ConcurrencyLimits) != 2 || cfg.ConcurrencyLimits[0].Scope != "database" {
		t.Errorf("limits not applied: %+v", cfg.ConcurrencyLimits)
	}
	if cfg.Telemetry.LogLevel != "debug" {
		t.Errorf("log level not applied: %q", cfg.Telemetry.LogLevel)
	}
	// Untouched sections keep their defaults.
	if cfg.Materializer.MaterializeSpec != "@every 1m" {
		t.Errorf("materialize spec default lost: %q", cfg.Materializer.MaterializeSpec)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("databse:\n  path: typo.db\n")); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"bad log level", "telemetry:\n  log_level: loud\n"},
		{"bad duration", "materializer:\n  horizon: soon\n"},
		{"negative slots", "concurrency_limits:\n  - scope: database\n    max_slots: -1\n"},
		{"missing scope", "concurrency_limits:\n  - max_slots: 1\n"},
		{"duplicate scope", "concurrency_limits:\n  - scope: db\n    max_slots: 1\n  - scope: db\n    max_slots: 2\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.data)); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowmark.yaml")
	if err := os.WriteFile(path, []byte("concurrency_limits:\n  - scope: database\n    max_slots: 1\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	// Initial load arrives first.
	first := waitEvent(t, w)
	if first.Error != nil {
		t.Fatalf("initial load errored: %v", first.Error)
	}
	if got := first.Config.ConcurrencyLimits[0].MaxSlots; got != 1 {
		t.Fatalf("expected initial limit 1, got %d", got)
	}

	if err := os.WriteFile(path, []byte("concurrency_limits:\n  - scope: database\n    max_slots: 3\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	updated := waitEvent(t, w)
	if updated.Error != nil {
		t.Fatalf("reload errored: %v", updated.Error)
	}
	if got := updated.Config.ConcurrencyLimits[0].MaxSlots; got != 3 {
		t.Fatalf("expected reloaded limit 3, got %d", got)
	}

	// A broken write surfaces as an error event, not a panic or a bad
	// config.
	if err := os.WriteFile(path, []byte("concurrency_limits: [\n"), 0o644); err != nil {
		t.Fatalf("failed to write broken config: %v", err)
	}
	broken := waitEvent(t, w)
	if broken.Error == nil {
		t.Fatal("expected error event for broken config")
	}
}

func TestWatcherStopClosesEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowmark.yaml")
	if err := os.WriteFile(path, []byte("concurrency_limits:\n  - scope: database\n    max_slots: 1\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	waitEvent(t, w)

	// Provoke reloads right up to the stop; the watcher goroutine owns
	// the events channel, so none of these may send after close.
	for i := 0; i < 10; i++ {
		if err := os.WriteFile(path, []byte("concurrency_limits:\n  - scope: database\n    max_slots: 2\n"), 0o644); err != nil {
			t.Fatalf("failed to rewrite config: %v", err)
		}
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-w.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after Stop")
		}
	}
}

func waitEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config event")
		return Event{}
	}
}
