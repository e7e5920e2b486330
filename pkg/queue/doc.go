/*
Package queue provides a bounded, joinable work queue.

A Queue holds WorkItems in FIFO order. Producers call Put, consumers call Get
and then Acknowledge once they have resolved the item. The queue counts every
accepted item as pending until it is acknowledged, which is what lets Flush
wait for work that has already left the queue but is still being processed.

Basic usage:

	q, err := queue.New(queue.Config{Capacity: 100})
	if err != nil {
		log.Fatal(err)
	}

	q.Put("scan", "10.0.0.1", time.Time{}) // zero date means now, in UTC

	item, ok := q.Get()
	if ok {
		handle(item)
		q.Acknowledge()
	}

Backpressure:

With a positive Capacity, Put blocks while the queue is full. After every
accepted item Put calls Flush(false), which blocks until the pending count
drops to zero whenever the queue is full. A producer that fills the queue
therefore pauses until the consumers have caught up completely, not just
until one slot frees. With Capacity 0 the queue is unbounded, Put never
blocks and Flush(false) is a no-op; Flush(true) still waits.

Retries:

Requeue returns an item to the tail of the queue. It is meant for a consumer
that still holds the item, so it neither waits for capacity nor flushes, and
the item keeps its ID and ScheduledAt. Requeued items lose their position:
FIFO order only holds among items that were never requeued.

Faults:

The only way Put can fail is a closed queue. The fault is logged at
logging.LevelCritical and reported as false; callers get a success flag, not
an error. PutContext, GetContext and FlushContext return errors for callers
that need cancellation.

Thread Safety:

All methods are safe for concurrent use. The queue's storage and pending
counter are private; Put, Get, Requeue, Acknowledge and Flush are the only
ways to change them.
*/
package queue
