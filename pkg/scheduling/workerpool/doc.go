/*
Package workerpool drains a queue.Queue with a fixed number of workers.

Each worker repeatedly takes the oldest item, resolves it with a ProcessFunc
and acknowledges it. An item the ProcessFunc rejects is offered to a
retry.Policy: it is either requeued at the back of the queue (after an
optional delay) or handed to a deadletter.Sink.

Basic usage:

	q, _ := queue.New(queue.Config{Capacity: 100})
	pool, err := workerpool.New(q, workerpool.Config{
		Workers: 4,
		Process: func(ctx context.Context, item queue.WorkItem) bool {
			return handle(item.Operation(), item.Payload())
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Stop(context.Background())

	q.Put("resize", "image-42.png", time.Time{})
	q.Flush(true) // returns once every item has been consumed

Retries:

With the default retry.Immediate policy a rejected item is requeued forever,
so a permanently failing item keeps cycling behind newer work. Bound it with
retry.Limited or retry.Exponential and configure a DeadLetter sink to keep
the items the pool gives up on:

	policy, _ := retry.Exponential(retry.Config{
		Base:        100 * time.Millisecond,
		Max:         5 * time.Second,
		MaxAttempts: 5,
	})
	pool, _ := workerpool.New(q, workerpool.Config{
		Retry:      policy,
		DeadLetter: deadletter.NewMemory(1000),
	})

A delayed retry keeps the item counted as pending until it is back in the
queue, so Flush does not return early while retries are outstanding.

Panics:

A panic inside the ProcessFunc is recovered, logged at the critical level,
and the item is dead-lettered with reason "panic". Set PropagatePanics to let
the panic crash the program instead.

Shutdown:

Stop cancels the context passed to ProcessFunc, lets each worker finish the
item it holds and requeues items still waiting out a retry delay. Items left
in the queue are not touched; close the queue separately.
*/
package workerpool
