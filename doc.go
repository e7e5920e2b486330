/*
Package joinq is a bounded in-process work queue drained by a pool of
retrying workers.

Queue (pkg/queue):
  - Put blocks while the queue is full, then flushes: a producer that fills
    the queue waits until every item in it has been processed
  - Get hands out the oldest item; Acknowledge marks it resolved

Scheduling (pkg/scheduling):
  - workerpool: workers that consume or requeue each item
  - producer: cron-driven producers

Support:
  - retry: immediate, limited and exponential retry policies
  - deadletter: in-memory and Redis sinks for abandoned items
  - ratelimit: token bucket shared by a pool's workers
  - metrics: Prometheus instrumentation
  - logging: slog loggers with a critical level

Example usage:

	import (
		"github.com/vnykmshr/joinq/pkg/queue"
		"github.com/vnykmshr/joinq/pkg/scheduling/workerpool"
	)

	q, _ := queue.New(queue.Config{Capacity: 2})
	pool, _ := workerpool.New(q, workerpool.Config{Workers: 1})
	defer pool.Stop(context.Background())

	q.Put("scan", "x1", time.Time{}) // returns at once: 1/2
	q.Put("scan", "x2", time.Time{}) // full: returns once both are processed

The joinq command (cmd/joinq) runs the same components as a service.
*/
package joinq
