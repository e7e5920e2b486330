// Package testutil holds assertion and timing helpers shared by joinq tests.
package testutil

import (
	"context"
	"testing"
	"time"
)

// TestTimeout is the default timeout for tests
const TestTimeout = 5 * time.Second

// WithTimeout creates a context with the default test timeout
func WithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), TestTimeout)
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// AssertNotEqual fails the test if got == notWant
func AssertNotEqual[T comparable](t *testing.T, got, notWant T) {
	t.Helper()
	if got == notWant {
		t.Fatalf("got %v, want anything else", got)
	}
}

// Eventually polls condition every interval until it returns true or timeout
// elapses, in which case the test fails.
func Eventually(t *testing.T, condition func() bool, timeout, interval time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(interval)
	}
}

// AssertEventually is Eventually with TestTimeout and a 10ms interval.
func AssertEventually(t *testing.T, condition func() bool) {
	t.Helper()
	Eventually(t, condition, TestTimeout, 10*time.Millisecond)
}

// WaitDone waits for done to be closed and fails the test after timeout.
func WaitDone(t *testing.T, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("not done within %v", timeout)
	}
}

// AssertBlocked fails the test if done is closed within d.
func AssertBlocked(t *testing.T, done <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-done:
		t.Fatal("operation returned, expected it to block")
	case <-time.After(d):
	}
}
