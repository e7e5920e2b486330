package testutil

import (
	"bytes"
	"sync"
	"time"
)

// MockClock implements a clock with controllable time.
// Queue tests use it to pin the default WorkItem timestamp.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock starting at the given time.
// If zero time is provided, uses current time.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{now: start}
}

// Now returns the current mock time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock clock to a specific time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers, used to capture
// log output from several workers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns the current buffer contents.
func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Reset clears the buffer.
func (b *SyncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}
