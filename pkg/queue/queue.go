package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	jqerrors "github.com/vnykmshr/joinq/pkg/common/errors"
	"github.com/vnykmshr/joinq/pkg/common/validation"
	"github.com/vnykmshr/joinq/pkg/logging"
	"github.com/vnykmshr/joinq/pkg/metrics"
)

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Config holds configuration options for creating a Queue.
type Config struct {
	// Name labels log records and metrics. Defaults to "default".
	Name string

	// Capacity is the maximum number of waiting items.
	// 0 means unbounded. Requeue ignores it, so Len can exceed Capacity by up
	// to the number of items retrieved but not yet acknowledged.
	Capacity int

	// Clock stamps items put without a date. If nil, SystemClock is used.
	Clock Clock

	// Logger receives flush and fault events. If nil, nothing is logged.
	Logger *slog.Logger

	// Metrics records queue gauges and counters. If nil, nothing is recorded.
	Metrics *metrics.Registry
}

// Queue is a goroutine-safe FIFO of WorkItems with optional capacity and
// join semantics. Every successful enqueue increments a pending counter that
// only Acknowledge decrements, so Flush can wait for items that have been
// taken by a worker but not yet resolved.
type Queue struct {
	name     string
	capacity int
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Registry

	mu      sync.Mutex
	items   []WorkItem
	pending int
	closed  bool

	// changed is closed and replaced on every change to items or closed.
	// Waiters re-check their condition after it fires.
	changed chan struct{}

	// idle is closed whenever pending is zero and replaced when the next
	// item is accepted. A flusher returns once the idle channel it captured
	// is closed, even if new items arrive before it is scheduled.
	idle chan struct{}
}

// New creates a Queue.
func New(config Config) (*Queue, error) {
	if err := validation.ValidateNonNegative("queue", "capacity", config.Capacity); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}

	q := &Queue{
		name:     config.Name,
		capacity: config.Capacity,
		clock:    config.Clock,
		logger:   logging.OrDiscard(config.Logger).With("queue", config.Name),
		metrics:  config.Metrics,
		changed:  make(chan struct{}),
		idle:     make(chan struct{}),
	}
	close(q.idle)
	if q.metrics != nil {
		q.metrics.QueueCapacity.WithLabelValues(q.name).Set(float64(q.capacity))
		q.observeLocked()
	}
	return q, nil
}

// Put creates a WorkItem and enqueues it, blocking while the queue is full.
// A zero date is replaced by the current UTC time. After the item is
// accepted Put calls Flush(false), so a producer that fills the queue waits
// until the workers have drained it.
//
// Put returns false only when the item could not be enqueued because the
// queue is closed. The fault is logged at critical level and not returned.
func (q *Queue) Put(operation string, payload any, date time.Time) bool {
	ok, _ := q.PutContext(context.Background(), operation, payload, date)
	return ok
}

// PutContext is Put with cancellation. If ctx is done while waiting for
// space, the item is not enqueued and (false, ctx.Err()) is returned. If ctx
// is done during the trailing flush, the item stays enqueued and
// (true, ctx.Err()) is returned.
func (q *Queue) PutContext(ctx context.Context, operation string, payload any, date time.Time) (bool, error) {
	if date.IsZero() {
		date = q.clock.Now().UTC()
	}
	item := NewItem(operation, payload, date)

	if err := q.enqueue(ctx, item, true); err != nil {
		if errors.Is(err, jqerrors.ErrClosed) {
			q.fault("unable to put an item in the queue", item, err)
		}
		return false, err
	}
	if q.metrics != nil {
		q.metrics.ItemsEnqueued.WithLabelValues(q.name, operation).Inc()
	}

	if _, err := q.FlushContext(ctx, false); err != nil {
		return true, err
	}
	return true, nil
}

// Requeue puts item back at the tail of the queue for another attempt.
// Unlike Put it neither waits for capacity nor flushes: the caller is a
// worker still holding the item's previous retrieval, and waiting on either
// could deadlock it against its own unacknowledged item. Requeue returns
// false if the queue is closed.
func (q *Queue) Requeue(item WorkItem) bool {
	if err := q.enqueue(context.Background(), item, false); err != nil {
		q.fault("unable to re-queue an item", item, err)
		return false
	}
	if q.metrics != nil {
		q.metrics.ItemsRequeued.WithLabelValues(q.name, item.operation).Inc()
	}
	return true
}

func (q *Queue) enqueue(ctx context.Context, item WorkItem, waitForSpace bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return jqerrors.ErrClosed
		}
		if !waitForSpace || !q.fullLocked() {
			break
		}
		if err := q.waitLocked(ctx); err != nil {
			return err
		}
	}

	q.items = append(q.items, item)
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	q.broadcastLocked()
	q.observeLocked()
	return nil
}

// Get blocks until an item is available and returns the oldest one. The item
// stays counted as pending until Acknowledge is called. ok is false only when
// the queue has been closed and drained.
func (q *Queue) Get() (item WorkItem, ok bool) {
	item, err := q.GetContext(context.Background())
	return item, err == nil
}

// GetContext is Get with cancellation. It returns ctx.Err() if ctx is done
// before an item arrives, or ErrClosed once the queue is closed and empty.
func (q *Queue) GetContext(ctx context.Context) (WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return WorkItem{}, jqerrors.ErrClosed
		}
		if err := q.waitLocked(ctx); err != nil {
			return WorkItem{}, err
		}
	}

	item := q.items[0]
	q.items[0] = WorkItem{}
	q.items = q.items[1:]
	q.broadcastLocked()
	q.observeLocked()
	return item, nil
}

// Acknowledge marks one retrieved item as resolved. It must be called
// exactly once per successful Get. When the pending counter reaches zero,
// blocked Flush calls return. Acknowledge panics if there is no retrieved
// item left to acknowledge.
func (q *Queue) Acknowledge() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending <= len(q.items) {
		panic("queue: Acknowledge called more times than items were retrieved")
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
	q.observeLocked()
}

// Flush blocks until every enqueued item has been acknowledged, but only if
// the queue is full or force is true. It reports whether it blocked.
// On an unbounded queue Flush(false) never blocks.
func (q *Queue) Flush(force bool) bool {
	flushed, _ := q.FlushContext(context.Background(), force)
	return flushed
}

// FlushContext is Flush with cancellation.
func (q *Queue) FlushContext(ctx context.Context, force bool) (bool, error) {
	q.mu.Lock()
	if !force && !q.fullLocked() {
		q.mu.Unlock()
		return false, nil
	}
	items, pending, idle := len(q.items), q.pending, q.idle
	q.mu.Unlock()

	if force {
		q.logger.Info("flushing queue", "items", items, "pending", pending, "forced", true)
	} else {
		q.logger.Info("queue is full, flushing", "items", items, "pending", pending, "forced", false)
	}
	if q.metrics != nil {
		q.metrics.Flushes.WithLabelValues(q.name, strconv.FormatBool(force)).Inc()
	}

	start := time.Now()
	select {
	case <-idle:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	if q.metrics != nil {
		q.metrics.FlushWaitTime.WithLabelValues(q.name).Observe(time.Since(start).Seconds())
	}
	return true, nil
}

// Close stops the queue from accepting items. Items already queued can
// still be retrieved; once they are gone Get reports ok=false. Close is
// idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of items waiting to be retrieved.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the number of items enqueued but not yet acknowledged.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Capacity returns the configured capacity, 0 when unbounded.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Name returns the configured queue name.
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) String() string {
	return fmt.Sprintf("%d items in queue", q.Len())
}

func (q *Queue) fullLocked() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// waitLocked releases the lock until the next state change or until ctx is
// done, then reacquires it.
func (q *Queue) waitLocked(ctx context.Context) error {
	changed := q.changed
	q.mu.Unlock()
	defer q.mu.Lock()

	select {
	case <-changed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) observeLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.QueueItems.WithLabelValues(q.name).Set(float64(len(q.items)))
	q.metrics.QueuePending.WithLabelValues(q.name).Set(float64(q.pending))
}

func (q *Queue) fault(msg string, item WorkItem, err error) {
	logging.Critical(q.logger, msg, "item", item.String(), "error", err)
	if q.metrics != nil {
		q.metrics.EnqueueFaults.WithLabelValues(q.name).Inc()
	}
}
