// Package slots tracks in-use versus available execution slots per
// concurrency-limit scope. Acquisition is atomic and all-or-nothing
// across a set of scopes, which prevents deadlock by partial hold, and
// accounting is keyed by run id so release is idempotent.
package slots

import (
	"context"
	"sort"
	"sync"
)

// Limit is one configured concurrency limit.
type Limit struct {
	// Scope is the limit's key, matched against run tags.
	Scope string `json:"scope" yaml:"scope" validate:"required"`

	// MaxSlots is the number of runs allowed to be Running in the
	// scope at once. Zero means the scope admits nothing.
	MaxSlots int `json:"max_slots" yaml:"max_slots" validate:"gte=0"`
}

// Manager is an in-memory slot manager. Scopes without a configured
// limit are unbounded. All methods are safe for concurrent use; the
// single mutex makes multi-scope acquisition atomic with respect to
// every other acquirer.
type Manager struct {
	mu     sync.Mutex
	limits map[string]int
	inUse  map[string]int
	// held maps run id to the scopes it currently holds.
	held map[string][]string
}

// NewManager creates a slot manager with the given limits.
func NewManager(limits ...Limit) *Manager {
	m := &Manager{
		limits: make(map[string]int),
		inUse:  make(map[string]int),
		held:   make(map[string][]string),
	}
	for _, l := range limits {
		m.limits[l.Scope] = l.MaxSlots
	}
	return m
}

// SetLimit creates or updates a limit. Shrinking a limit below its
// current occupancy never evicts holders; the scope simply admits no
// new runs until occupancy drains.
func (m *Manager) SetLimit(scope string, maxSlots int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[scope] = maxSlots
}

// RemoveLimit deletes a limit, making the scope unbounded again.
func (m *Manager) RemoveLimit(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limits, scope)
}

// Replace swaps the whole limit set, used by config hot reload.
func (m *Manager) Replace(limits []Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = make(map[string]int, len(limits))
	for _, l := range limits {
		m.limits[l.Scope] = l.MaxSlots
	}
}

// TryAcquire takes one slot in every given scope, or none at all. It
// returns false when any limited scope is full. Re-acquiring for a run
// that already holds slots is a no-op success, so duplicate Running
// signals cannot double-count.
func (m *Manager) TryAcquire(_ context.Context, runID string, scopes []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[runID]; ok {
		return true, nil
	}

	limited := make([]string, 0, len(scopes))
	seen := make(map[string]bool, len(scopes))
	for _, scope := range scopes {
		if seen[scope] {
			continue
		}
		seen[scope] = true
		maxSlots, ok := m.limits[scope]
		if !ok {
			continue // unbounded
		}
		if m.inUse[scope] >= maxSlots {
			return false, nil
		}
		limited = append(limited, scope)
	}

	for _, scope := range limited {
		m.inUse[scope]++
	}
	sort.Strings(limited)
	m.held[runID] = limited
	return true, nil
}

// Release returns every slot held by the run. Unknown run ids are a
// no-op.
func (m *Manager) Release(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, scope := range m.held[runID] {
		if m.inUse[scope] > 0 {
			m.inUse[scope]--
		}
		if m.inUse[scope] == 0 {
			delete(m.inUse, scope)
		}
	}
	delete(m.held, runID)
	return nil
}

// InUse returns the current occupancy of a scope.
func (m *Manager) InUse(scope string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse[scope]
}

// Snapshot returns the occupancy of every scope with at least one held
// slot, for metrics export.
func (m *Manager) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.inUse))
	for scope, n := range m.inUse {
		out[scope] = n
	}
	return out
}
