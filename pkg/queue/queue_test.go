package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/joinq/internal/testutil"
	jqerrors "github.com/vnykmshr/joinq/pkg/common/errors"
	"github.com/vnykmshr/joinq/pkg/logging"
	"github.com/vnykmshr/joinq/pkg/metrics"
)

const blockWait = 50 * time.Millisecond

func newQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	q, err := New(Config{Capacity: capacity})
	testutil.AssertNoError(t, err)
	return q
}

// resolve takes n items and acknowledges each, returning their payloads in order.
func resolve(t *testing.T, q *Queue, n int) []any {
	t.Helper()
	payloads := make([]any, 0, n)
	for i := 0; i < n; i++ {
		ctx, cancel := testutil.WithTimeout(t)
		item, err := q.GetContext(ctx)
		cancel()
		testutil.AssertNoError(t, err)
		payloads = append(payloads, item.Payload())
		q.Acknowledge()
	}
	return payloads
}

// goPut runs Put in a goroutine and returns a channel closed when it returns.
func goPut(q *Queue, op string, payload any, result *atomic.Bool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ok := q.Put(op, payload, time.Time{})
		if result != nil {
			result.Store(ok)
		}
	}()
	return done
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		capacity  int
		expectErr bool
	}{
		{"unbounded", 0, false},
		{"bounded", 10, false},
		{"single slot", 1, false},
		{"negative capacity", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(Config{Capacity: tt.capacity})
			if tt.expectErr {
				testutil.AssertError(t, err)
				testutil.AssertEqual(t, errors.Is(err, jqerrors.ErrInvalidConfiguration), true)
				return
			}
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, q.Capacity(), tt.capacity)
			testutil.AssertEqual(t, q.Name(), "default")
			testutil.AssertEqual(t, q.Len(), 0)
			testutil.AssertEqual(t, q.Pending(), 0)
		})
	}
}

func TestPutDefaultsDate(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	clock := testutil.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, loc))
	q, err := New(Config{Clock: clock})
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, q.Put("scan", "x1", time.Time{}), true)
	explicit := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	testutil.AssertEqual(t, q.Put("scan", "x2", explicit), true)

	first, ok := q.Get()
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, first.ScheduledAt().Equal(clock.Now()), true)
	testutil.AssertEqual(t, first.ScheduledAt().Location(), time.UTC)
	testutil.AssertEqual(t, first.Operation(), "scan")
	testutil.AssertNotEqual(t, first.ID(), "")

	second, _ := q.Get()
	testutil.AssertEqual(t, second.ScheduledAt(), explicit)
	testutil.AssertNotEqual(t, second.ID(), first.ID())

	q.Acknowledge()
	q.Acknowledge()
}

func TestFIFO(t *testing.T) {
	q := newQueue(t, 0)

	for _, p := range []string{"A", "B", "C"} {
		testutil.AssertEqual(t, q.Put("op", p, time.Time{}), true)
	}

	got := resolve(t, q, 3)
	testutil.AssertEqual(t, got[0], any("A"))
	testutil.AssertEqual(t, got[1], any("B"))
	testutil.AssertEqual(t, got[2], any("C"))
}

func TestCapacityBlocksPut(t *testing.T) {
	q := newQueue(t, 2)

	// The second Put fills the queue and then blocks in its own flush.
	filled := make(chan struct{})
	go func() {
		defer close(filled)
		q.Put("scan", "x1", time.Time{})
		q.Put("scan", "x2", time.Time{})
	}()
	testutil.AssertEventually(t, func() bool { return q.Len() == 2 })

	var accepted atomic.Bool
	third := goPut(q, "scan", "x3", &accepted)
	testutil.AssertBlocked(t, third, blockWait)
	testutil.AssertEqual(t, q.Len(), 2)
	testutil.AssertEqual(t, q.Pending(), 2)

	// Freeing one slot admits x3, which fills the queue again.
	resolve(t, q, 1)
	testutil.AssertEventually(t, func() bool { return q.Pending() == 2 && q.Len() == 2 })

	got := resolve(t, q, 2)
	testutil.AssertEqual(t, got[0], any("x2"))
	testutil.AssertEqual(t, got[1], any("x3"))

	testutil.WaitDone(t, filled, time.Second)
	testutil.WaitDone(t, third, time.Second)
	testutil.AssertEqual(t, accepted.Load(), true)
	testutil.AssertEqual(t, q.Pending(), 0)
}

func TestFlushScenario(t *testing.T) {
	q := newQueue(t, 2)

	testutil.AssertEqual(t, q.Put("scan", "x1", time.Time{}), true)
	testutil.AssertEqual(t, q.Flush(false), false)
	testutil.AssertEqual(t, q.Len(), 1)

	var accepted atomic.Bool
	second := goPut(q, "scan", "x2", &accepted)
	testutil.AssertBlocked(t, second, blockWait)
	testutil.AssertEqual(t, q.Len(), 2)

	resolve(t, q, 1)
	testutil.AssertBlocked(t, second, blockWait)

	resolve(t, q, 1)
	testutil.WaitDone(t, second, time.Second)
	testutil.AssertEqual(t, accepted.Load(), true)
	testutil.AssertEqual(t, q.Len(), 0)
	testutil.AssertEqual(t, q.Pending(), 0)
}

func TestFlushForceWaitsForAcknowledgements(t *testing.T) {
	q := newQueue(t, 0)
	for i := 0; i < 3; i++ {
		q.Put("op", i, time.Time{})
	}

	var flushed atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		flushed.Store(q.Flush(true))
	}()

	// Retrieval alone is not enough: the items are still pending.
	for i := 0; i < 3; i++ {
		_, ok := q.Get()
		testutil.AssertEqual(t, ok, true)
	}
	testutil.AssertBlocked(t, done, blockWait)
	testutil.AssertEqual(t, q.Pending(), 3)

	q.Acknowledge()
	q.Acknowledge()
	testutil.AssertBlocked(t, done, blockWait)

	q.Acknowledge()
	testutil.WaitDone(t, done, time.Second)
	testutil.AssertEqual(t, flushed.Load(), true)
	testutil.AssertEqual(t, q.Pending(), 0)
}

func TestFlushNotFull(t *testing.T) {
	q := newQueue(t, 3)
	q.Put("op", 1, time.Time{})

	testutil.AssertEqual(t, q.Flush(false), false)

	empty := newQueue(t, 0)
	testutil.AssertEqual(t, empty.Flush(true), true)
}

func TestFlushLogDistinguishesForced(t *testing.T) {
	var logs testutil.SyncBuffer
	q, err := New(Config{Capacity: 1, Logger: logging.New(&logs, logging.Options{})})
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, q.Flush(true), true)
	testutil.AssertEqual(t, strings.Contains(logs.String(), "flushing queue"), true)
	testutil.AssertEqual(t, strings.Contains(logs.String(), "queue is full"), false)

	done := goPut(q, "op", "A", nil)
	testutil.AssertEventually(t, func() bool { return strings.Contains(logs.String(), "queue is full, flushing") })
	resolve(t, q, 1)
	testutil.WaitDone(t, done, time.Second)
}

func TestUnboundedPutNeverBlocks(t *testing.T) {
	q := newQueue(t, 0)
	const n = 10000

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			if !q.Put("op", i, time.Time{}) {
				t.Errorf("put %d failed", i)
				return
			}
		}
	}()
	testutil.WaitDone(t, done, testutil.TestTimeout)

	testutil.AssertEqual(t, q.Len(), n)
	testutil.AssertEqual(t, q.Pending(), n)
	resolve(t, q, n)
}

func TestRequeueGoesToBack(t *testing.T) {
	q := newQueue(t, 0)
	q.Put("op", "A", time.Time{})
	q.Put("op", "B", time.Time{})

	a, _ := q.Get()
	testutil.AssertEqual(t, q.Requeue(a), true)
	q.Acknowledge()
	q.Put("op", "C", time.Time{})

	b, _ := q.Get()
	testutil.AssertEqual(t, b.Payload(), any("B"))
	q.Acknowledge()

	again, _ := q.Get()
	testutil.AssertEqual(t, again.Payload(), any("A"))
	testutil.AssertEqual(t, again.ID(), a.ID())
	testutil.AssertEqual(t, again.ScheduledAt(), a.ScheduledAt())
	q.Acknowledge()

	c, _ := q.Get()
	testutil.AssertEqual(t, c.Payload(), any("C"))
	q.Acknowledge()
	testutil.AssertEqual(t, q.Pending(), 0)
}

func TestRequeueIgnoresCapacity(t *testing.T) {
	q := newQueue(t, 1)
	first := goPut(q, "op", "A", nil)
	testutil.AssertEventually(t, func() bool { return q.Len() == 1 })

	a, _ := q.Get()
	// A producer takes the freed slot before the worker requeues.
	refill := goPut(q, "op", "B", nil)
	testutil.AssertEventually(t, func() bool { return q.Len() == 1 })

	testutil.AssertEqual(t, q.Requeue(a), true)
	testutil.AssertEqual(t, q.Len(), 2)
	q.Acknowledge()

	got := resolve(t, q, 2)
	testutil.AssertEqual(t, got[0], any("B"))
	testutil.AssertEqual(t, got[1], any("A"))
	testutil.WaitDone(t, first, time.Second)
	testutil.WaitDone(t, refill, time.Second)
	testutil.AssertEqual(t, q.Pending(), 0)
}

func TestAcknowledgeUnbalancedPanics(t *testing.T) {
	q := newQueue(t, 0)

	assertPanics := func() {
		t.Helper()
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic")
			}
		}()
		q.Acknowledge()
	}

	assertPanics()

	// A queued but never retrieved item cannot be acknowledged either.
	q.Put("op", 1, time.Time{})
	assertPanics()
	testutil.AssertEqual(t, q.Pending(), 1)

	resolve(t, q, 1)
	assertPanics()
	testutil.AssertEqual(t, q.Pending(), 0)
}

func TestClose(t *testing.T) {
	var logs testutil.SyncBuffer
	q, err := New(Config{Name: "scans", Logger: logging.New(&logs, logging.Options{})})
	testutil.AssertNoError(t, err)

	q.Put("op", "left", time.Time{})
	q.Close()
	q.Close()
	testutil.AssertEqual(t, q.Closed(), true)

	testutil.AssertEqual(t, q.Put("op", "late", time.Time{}), false)
	testutil.AssertEqual(t, strings.Contains(logs.String(), "level=CRITICAL"), true)
	testutil.AssertEqual(t, strings.Contains(logs.String(), "queue is closed"), true)

	item, ok := q.Get()
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, item.Payload(), any("left"))
	testutil.AssertEqual(t, q.Requeue(item), false)
	q.Acknowledge()

	_, ok = q.Get()
	testutil.AssertEqual(t, ok, false)
}

func TestCloseReleasesBlockedCallers(t *testing.T) {
	q := newQueue(t, 1)

	got := make(chan error, 1)
	go func() {
		_, err := q.GetContext(context.Background())
		got <- err
	}()
	time.Sleep(blockWait)
	q.Close()

	select {
	case err := <-got:
		testutil.AssertEqual(t, errors.Is(err, jqerrors.ErrClosed), true)
	case <-time.After(time.Second):
		t.Fatal("Get was not released by Close")
	}
}

func TestGetContextTimeout(t *testing.T) {
	q := newQueue(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	item, err := q.GetContext(ctx)
	testutil.AssertEqual(t, errors.Is(err, context.DeadlineExceeded), true)
	testutil.AssertEqual(t, item.IsZero(), true)
}

func TestPutContextCancelWhileFull(t *testing.T) {
	q := newQueue(t, 1)

	// Fill the queue; this Put blocks in its flush until canceled.
	ctx, cancel := context.WithCancel(context.Background())
	var fillErr error
	var fillOK bool
	filled := make(chan struct{})
	go func() {
		defer close(filled)
		fillOK, fillErr = q.PutContext(ctx, "op", "x1", time.Time{})
	}()
	testutil.AssertEventually(t, func() bool { return q.Len() == 1 })

	short, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	ok, err := q.PutContext(short, "op", "x2", time.Time{})
	testutil.AssertEqual(t, ok, false)
	testutil.AssertEqual(t, errors.Is(err, context.DeadlineExceeded), true)
	testutil.AssertEqual(t, q.Pending(), 1)

	cancel()
	testutil.WaitDone(t, filled, time.Second)
	testutil.AssertEqual(t, fillOK, true)
	testutil.AssertEqual(t, errors.Is(fillErr, context.Canceled), true)

	resolve(t, q, 1)
}

func TestConcurrentProducersAndConsumers(t *testing.T) {
	q := newQueue(t, 8)

	const producers, perProducer, consumers = 4, 250, 4
	var retrieved, acked atomic.Int64

	ctx, cancel := context.WithCancel(context.Background())
	var consumerWG sync.WaitGroup
	for i := 0; i < consumers; i++ {
		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			for {
				_, err := q.GetContext(ctx)
				if err != nil {
					return
				}
				retrieved.Add(1)
				q.Acknowledge()
				acked.Add(1)
			}
		}()
	}

	var producerWG sync.WaitGroup
	for p := 0; p < producers; p++ {
		producerWG.Add(1)
		go func(p int) {
			defer producerWG.Done()
			for i := 0; i < perProducer; i++ {
				if !q.Put("op", p*perProducer+i, time.Time{}) {
					t.Errorf("put failed")
				}
			}
		}(p)
	}
	producerWG.Wait()

	testutil.AssertEqual(t, q.Flush(true), true)
	testutil.AssertEqual(t, q.Pending(), 0)
	testutil.AssertEqual(t, retrieved.Load(), int64(producers*perProducer))
	testutil.AssertEqual(t, acked.Load(), retrieved.Load())

	cancel()
	consumerWG.Wait()
}

func TestMetrics(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	q, err := New(Config{Name: "scans", Capacity: 4, Metrics: reg})
	testutil.AssertNoError(t, err)

	q.Put("scan", 1, time.Time{})
	q.Put("scan", 2, time.Time{})
	item, _ := q.Get()
	q.Requeue(item)
	q.Acknowledge()
	testutil.AssertEqual(t, promtest.ToFloat64(reg.QueuePending.WithLabelValues("scans")), 2.0)

	resolve(t, q, 2)
	testutil.AssertEqual(t, q.Flush(true), true)

	testutil.AssertEqual(t, promtest.ToFloat64(reg.QueueCapacity.WithLabelValues("scans")), 4.0)
	testutil.AssertEqual(t, promtest.ToFloat64(reg.ItemsEnqueued.WithLabelValues("scans", "scan")), 2.0)
	testutil.AssertEqual(t, promtest.ToFloat64(reg.ItemsRequeued.WithLabelValues("scans", "scan")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(reg.QueuePending.WithLabelValues("scans")), 0.0)
	testutil.AssertEqual(t, promtest.ToFloat64(reg.Flushes.WithLabelValues("scans", "true")), 1.0)
}

func TestString(t *testing.T) {
	q := newQueue(t, 0)
	q.Put("op", 1, time.Time{})
	q.Put("op", 2, time.Time{})

	testutil.AssertEqual(t, q.String(), "2 items in queue")
	resolve(t, q, 2)
}
