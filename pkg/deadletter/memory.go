package deadletter

import (
	"context"
	"sync"
)

// Memory keeps dead-lettered entries in process memory.
type Memory struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

// NewMemory creates a Memory sink that keeps at most limit entries,
// discarding the oldest. A limit of 0 keeps everything.
func NewMemory(limit int) *Memory {
	if limit < 0 {
		limit = 0
	}
	return &Memory{limit: limit}
}

// Send records entry.
func (m *Memory) Send(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	if m.limit > 0 && len(m.entries) > m.limit {
		m.entries = append(m.entries[:0:0], m.entries[len(m.entries)-m.limit:]...)
	}
	return nil
}

// Entries returns the recorded entries, newest first.
func (m *Memory) Entries(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[len(m.entries)-1-i] = e
	}
	return out, nil
}

// Len returns the number of recorded entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
