// Package status implements the in-memory status tracker: the single source
// of truth for the lifecycle state of every execution. One worker writes a
// given entry for its whole lifetime; API handlers read concurrently.
package status

import (
	"sync"
	"time"

	"github.com/seantiz/proctor/internal/model"
)

// Tracker maps execution identifiers to their lifecycle state. Completed
// entries are retained for a bounded window so late pollers still get an
// answer, then purged by Sweep. Entries marked active are never purged.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*model.StatusEntry
	active  map[string]bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*model.StatusEntry),
		active:  make(map[string]bool),
	}
}

// Set stores the entry for its identifier, replacing any previous value.
// Callers store a fresh copy per transition; readers receive that copy.
func (t *Tracker) Set(entry *model.StatusEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[entry.ID] = entry
}

// Get returns the entry for id, or false when the id is unknown or already
// swept.
func (t *Tracker) Get(id string) (*model.StatusEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// List returns a snapshot of all entries, newest first.
func (t *Tracker) List() []*model.StatusEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*model.StatusEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// MarkActive flags id as in flight. Active ids survive Sweep regardless of age.
func (t *Tracker) MarkActive(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[id] = true
}

// MarkDone clears the in-flight flag for id, making it eligible for sweeping
// once its retention window elapses.
func (t *Tracker) MarkDone(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
}

// Sweep removes entries whose execution finished more than retention ago and
// returns their identifiers. In-flight entries and entries without a finish
// time are kept.
func (t *Tracker) Sweep(retention time.Duration) []string {
	cutoff := time.Now().UTC().Add(-retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for id, e := range t.entries {
		if t.active[id] {
			continue
		}
		if e.FinishedAt == nil || e.FinishedAt.After(cutoff) {
			continue
		}
		delete(t.entries, id)
		removed = append(removed, id)
	}
	return removed
}

// Len returns the number of tracked entries.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
