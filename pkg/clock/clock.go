// Package clock provides wall-clock access behind an interface so that
// time-dependent components (the transition pipeline, the recurrence
// engine, the materializer) can be tested with a controlled clock.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current instant. Implementations must return
// timezone-aware times; callers convert to the zone they need.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time
}

// System is a Clock backed by the real wall clock.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() time.Time {
	return time.Now()
}

// Fake is a Clock whose current instant is set explicitly. It is safe
// for concurrent use and intended for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock pinned at the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the pinned instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set pins the clock to a new instant.
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Advance moves the clock forward by d and returns the new instant.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}
