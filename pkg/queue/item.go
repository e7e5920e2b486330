package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkItem is the unit of work flowing through a Queue. It is immutable:
// a retried item is the same value submitted again, identified by ID.
type WorkItem struct {
	id          string
	operation   string
	payload     any
	scheduledAt time.Time
}

// NewItem creates a WorkItem with a fresh ID. A zero scheduledAt is replaced
// by the current UTC time.
func NewItem(operation string, payload any, scheduledAt time.Time) WorkItem {
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}
	return WorkItem{
		id:          uuid.NewString(),
		operation:   operation,
		payload:     payload,
		scheduledAt: scheduledAt,
	}
}

// ID uniquely identifies the item across requeues.
func (w WorkItem) ID() string { return w.id }

// Operation is the operation name given to Put.
func (w WorkItem) Operation() string { return w.operation }

// Payload is the opaque value given to Put.
func (w WorkItem) Payload() any { return w.payload }

// ScheduledAt is when the item was triggered.
func (w WorkItem) ScheduledAt() time.Time { return w.scheduledAt }

// IsZero reports whether w is the zero WorkItem returned alongside errors.
func (w WorkItem) IsZero() bool { return w.id == "" }

func (w WorkItem) String() string {
	return fmt.Sprintf("{operation: %s, item: %v, date: %s}",
		w.operation, w.payload, w.scheduledAt.Format(time.RFC3339Nano))
}
