package engine

import (
	"sync"
	"time"
)

// DefaultDedupWindow is how long a completed job id keeps blocking
// re-submission.
const DefaultDedupWindow = 30 * time.Second

// DefaultDedupCapacity bounds the recent-submissions cache.
const DefaultDedupCapacity = 1024

// DuplicateGuard is a bounded recent-submissions cache preventing the same
// job identifier from being re-queued while in flight or very recently
// completed. Distinct identifiers are never blocked.
type DuplicateGuard struct {
	window   time.Duration
	capacity int

	mu       sync.Mutex
	inFlight map[string]bool
	recent   map[string]time.Time
	order    []string
}

// NewDuplicateGuard creates a guard with the given tracking window and
// maximum number of remembered completions.
func NewDuplicateGuard(window time.Duration, capacity int) *DuplicateGuard {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DuplicateGuard{
		window:   window,
		capacity: capacity,
		inFlight: make(map[string]bool),
		recent:   make(map[string]time.Time),
	}
}

// Begin registers id as in flight. It returns false, registering nothing,
// when the same id is already in flight or completed within the window.
func (g *DuplicateGuard) Begin(id string) bool {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight[id] {
		return false
	}
	if t, ok := g.recent[id]; ok {
		if now.Sub(t) < g.window {
			return false
		}
		delete(g.recent, id)
	}

	g.inFlight[id] = true
	return true
}

// Complete moves id from in flight to the recent cache, starting its
// tracking window. The oldest remembered completion is evicted when the
// cache is full.
func (g *DuplicateGuard) Complete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inFlight, id)
	g.recent[id] = time.Now()
	g.order = append(g.order, id)

	// Recycling ids leave stale occurrences behind in order; without
	// compaction the slice grows by one entry per completion even though
	// recent stays small.
	if len(g.order) > 2*g.capacity {
		g.compactOrder()
	}

	for len(g.recent) > g.capacity && len(g.order) > 0 {
		oldest := g.order[0]
		g.order = g.order[1:]
		// order may hold ids already re-submitted and re-recorded; only
		// evict an id when this is its oldest occurrence.
		if _, ok := g.recent[oldest]; ok && !g.containsLater(oldest) {
			delete(g.recent, oldest)
		}
	}
}

// compactOrder rewrites the eviction order keeping only the newest
// occurrence of each id still tracked in recent, preserving oldest-first
// ordering. Caller must hold g.mu.
func (g *DuplicateGuard) compactOrder() {
	seen := make(map[string]bool, len(g.recent))
	compacted := make([]string, 0, len(g.recent))
	for i := len(g.order) - 1; i >= 0; i-- {
		id := g.order[i]
		if seen[id] {
			continue
		}
		if _, ok := g.recent[id]; !ok {
			continue
		}
		seen[id] = true
		compacted = append(compacted, id)
	}
	for i, j := 0, len(compacted)-1; i < j; i, j = i+1, j-1 {
		compacted[i], compacted[j] = compacted[j], compacted[i]
	}
	g.order = compacted
}

// containsLater reports whether id appears again later in the eviction order.
func (g *DuplicateGuard) containsLater(id string) bool {
	for _, v := range g.order {
		if v == id {
			return true
		}
	}
	return false
}
