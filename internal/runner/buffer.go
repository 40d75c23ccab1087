package runner

import (
	"strings"
	"sync"
)

// DefaultMaxChunks bounds captured output for long-running or noisy scripts.
const DefaultMaxChunks = 512

// OutputBuffer is a bounded ring buffer of output chunks. Once full, the
// oldest chunk is discarded for each new one, so memory stays fixed no matter
// how much a script prints. Safe for concurrent use.
type OutputBuffer struct {
	mu      sync.Mutex
	max     int
	chunks  []string
	dropped int
}

// NewOutputBuffer creates a buffer holding at most max chunks. A max of zero
// or below falls back to DefaultMaxChunks.
func NewOutputBuffer(max int) *OutputBuffer {
	if max <= 0 {
		max = DefaultMaxChunks
	}
	return &OutputBuffer{max: max}
}

// Append adds a chunk, evicting the oldest when the buffer is full.
func (b *OutputBuffer) Append(chunk string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) >= b.max {
		b.chunks = b.chunks[1:]
		b.dropped++
	}
	b.chunks = append(b.chunks, chunk)
}

// Lines returns a copy of the retained chunks in arrival order.
func (b *OutputBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Dropped returns how many chunks were evicted.
func (b *OutputBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// String joins the retained chunks with newlines.
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.chunks, "\n")
}
