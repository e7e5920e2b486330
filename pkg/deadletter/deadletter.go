// Package deadletter stores items that a worker pool gave up on.
package deadletter

import (
	"context"
	"time"

	"github.com/vnykmshr/joinq/pkg/queue"
)

// Reason explains why an item was dead-lettered.
type Reason string

const (
	// ReasonRetriesExhausted means the retry policy refused another attempt.
	ReasonRetriesExhausted Reason = "retries_exhausted"

	// ReasonPanic means the processing function panicked.
	ReasonPanic Reason = "panic"
)

// Entry is the record kept for a dead-lettered item.
type Entry struct {
	ItemID      string    `json:"item_id"`
	Operation   string    `json:"operation"`
	Payload     any       `json:"payload"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Attempts    int       `json:"attempts"`
	Reason      Reason    `json:"reason"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// NewEntry builds an Entry for item. err may be nil.
func NewEntry(item queue.WorkItem, reason Reason, attempts int, err error) Entry {
	e := Entry{
		ItemID:      item.ID(),
		Operation:   item.Operation(),
		Payload:     item.Payload(),
		ScheduledAt: item.ScheduledAt(),
		Attempts:    attempts,
		Reason:      reason,
		At:          time.Now().UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Sink receives dead-lettered entries. Implementations must be safe for
// concurrent use by several workers.
type Sink interface {
	Send(ctx context.Context, entry Entry) error
}

// Reader is implemented by sinks that can list what they hold, newest first.
type Reader interface {
	Entries(ctx context.Context) ([]Entry, error)
}
