package queue_test

import (
	"fmt"
	"time"

	"github.com/vnykmshr/joinq/pkg/queue"
)

func Example() {
	q, err := queue.New(queue.Config{Capacity: 10})
	if err != nil {
		panic(err)
	}

	q.Put("scan", "x1", time.Time{})
	q.Put("scan", "x2", time.Time{})
	fmt.Println(q)

	for q.Len() > 0 {
		item, _ := q.Get()
		fmt.Println(item.Operation(), item.Payload())
		q.Acknowledge()
	}

	fmt.Println("pending:", q.Pending())

	// Output:
	// 2 items in queue
	// scan x1
	// scan x2
	// pending: 0
}

func ExampleQueue_Flush() {
	q, _ := queue.New(queue.Config{})
	q.Put("scan", "x1", time.Time{})

	done := make(chan bool)
	go func() { done <- q.Flush(true) }()

	item, _ := q.Get()
	fmt.Println("processing", item.Payload())
	q.Acknowledge()

	fmt.Println("flushed:", <-done)

	// Output:
	// processing x1
	// flushed: true
}
