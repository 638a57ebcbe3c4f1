package shell

import (
	"strings"
	"sync"
)

// Buffer accumulates session output. Unlike a pipe it is not consumed
// by reads: Output returns everything since creation or the last Clear.
// The buffer is capped; when full, the oldest bytes are trimmed so a
// chatty long-running process cannot grow without bound.
type Buffer struct {
	mu   sync.RWMutex
	data []byte
	max  int
}

// NewBuffer creates a buffer that retains at most max bytes.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 1024 * 1024
	}
	return &Buffer{max: max}
}

// Write appends a chunk, trimming the oldest bytes past capacity.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		trimmed := make([]byte, b.max)
		copy(trimmed, b.data[len(b.data)-b.max:])
		b.data = trimmed
	}
	return len(p), nil
}

// String returns the accumulated output.
func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.data)
}

// Len returns the number of retained bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Clear discards all retained output.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}

// Contains reports whether the accumulated output includes s.
func (b *Buffer) Contains(s string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.Contains(string(b.data), s)
}

// Info is the public snapshot of a session.
type Info struct {
	ID         string `json:"id"`
	SandboxID  string `json:"sandbox_id"`
	Shell      string `json:"shell"`
	WorkingDir string `json:"working_dir"`
	Active     bool   `json:"active"`
}
