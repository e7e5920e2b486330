// Package producer feeds a queue on cron schedules.
//
// A Cron producer owns a robfig/cron scheduler. Each job names an operation
// and a payload function; when the job fires, the producer puts one item
// dated with the fire time:
//
//	q, _ := queue.New(queue.Config{Capacity: 100})
//	p, _ := producer.New(q, producer.Config{})
//	p.Add("*/30 * * * * *", "heartbeat", nil)
//	p.Add("@hourly", "rollup", func(t time.Time) any { return t.Truncate(time.Hour) })
//	p.Start()
//	defer p.Stop(context.Background())
//
// Puts block while the queue is full, as they do for any producer. Stop
// cancels blocked puts so shutdown is not held up by a stalled consumer.
package producer
