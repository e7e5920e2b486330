// Package metrics provides Prometheus instrumentation for joinq components.
//
// The queue, the worker pool and the cron producer each accept an optional
// *Registry. A nil registry disables recording for that component, so the
// hot paths only pay for metrics when they are wired.
//
// # Quick Start
//
//	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
//	q, _ := queue.New(queue.Config{Name: "scans", Capacity: 100, Metrics: reg})
//	pool, _ := workerpool.New(q, workerpool.Config{Name: "scanners", Metrics: reg})
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # Custom Registry
//
// Use a custom Prometheus registry for isolation, for example in tests:
//
//	registry := prometheus.NewRegistry()
//	reg := metrics.NewRegistry(registry)
//
// # Available Metrics
//
// Queue metrics (label queue_name):
//
//   - joinq_queue_items: items waiting in the queue
//   - joinq_queue_pending: items accepted but not yet acknowledged
//   - joinq_queue_capacity: configured capacity, 0 when unbounded
//   - joinq_queue_enqueued_total{operation}: items accepted by Put
//   - joinq_queue_requeued_total{operation}: items put back for another attempt
//   - joinq_queue_enqueue_faults_total: rejected enqueues
//   - joinq_queue_flushes_total{forced}: blocking flushes
//   - joinq_queue_flush_wait_seconds: time spent blocked in Flush
//
// Worker pool metrics (label pool_name):
//
//   - joinq_workerpool_size: number of workers
//   - joinq_workerpool_active_workers: workers currently processing an item
//   - joinq_workerpool_items_processed_total{outcome}: consumed, requeued,
//     dead_lettered, dropped or panicked
//   - joinq_workerpool_process_duration_seconds: time in the processing function
//   - joinq_workerpool_empty_polls_total: polls that found no item
//   - joinq_workerpool_dead_letter_errors_total: failed dead-letter deliveries
//
// Producer metrics:
//
//   - joinq_producer_fires_total{producer_name,operation,result}
package metrics
