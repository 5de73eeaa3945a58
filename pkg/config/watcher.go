package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is one configuration reload outcome. Exactly one of Config and
// Error is set.
type Event struct {
	Path   string
	Config *Config
	Error  error
}

// Watcher monitors one configuration file and re-loads it on change.
// It watches the containing directory rather than the file itself so
// atomic-rename writes, the way editors and configuration management
// tools save files, are still observed.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	events   chan Event
	debounce time.Duration
}

// NewWatcher creates a watcher for the given configuration file.
func NewWatcher(path string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:     path,
		watcher:  fsWatcher,
		events:   make(chan Event, 10),
		debounce: 100 * time.Millisecond,
	}, nil
}

// Events returns the channel that receives reload events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins watching. The initial load is delivered as the first
// event so the caller has a single code path for applying config.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	w.reload()
	go w.run(ctx)
	return nil
}

// Stop closes the underlying filesystem watcher. The events channel is
// closed by the watching goroutine once it winds down, so a concurrent
// reload can never send on a closed channel.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.events)

	// Debounce so editors writing in several syscalls produce one
	// reload.
	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.events <- Event{Path: w.path, Error: err}

		case now := <-ticker.C:
			if !pending.IsZero() && now.Sub(pending) >= w.debounce {
				pending = time.Time{}
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// A broken config is reported but never applied; the previous
		// configuration stays in effect.
		w.events <- Event{Path: w.path, Error: err}
		return
	}
	w.events <- Event{Path: w.path, Config: cfg}
}
