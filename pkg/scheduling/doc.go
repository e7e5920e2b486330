/*
Package scheduling groups the components that move work through a queue.

  - workerpool: a fixed set of workers that drain a queue.Queue, retrying or
    dead-lettering the items they cannot process
  - producer: cron schedules that put items into a queue

A typical service wires one queue to one pool and, optionally, a producer:

	q, _ := queue.New(queue.Config{Capacity: 100})
	pool, _ := workerpool.New(q, workerpool.Config{Workers: 8, Process: handle})
	cron, _ := producer.New(q, producer.Config{})
	cron.Add("@every 30s", "heartbeat", nil)
	cron.Start()

Shut down in the reverse order: stop the producer, stop the pool, then close
the queue.
*/
package scheduling
