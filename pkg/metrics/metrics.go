// Package metrics provides Prometheus instrumentation for joinq components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for ItemsProcessed.
const (
	OutcomeConsumed     = "consumed"
	OutcomeRequeued     = "requeued"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeDropped      = "dropped"
	OutcomePanicked     = "panicked"
)

// Registry holds all metric instances for joinq components.
type Registry struct {
	// Queue Metrics
	QueueItems    *prometheus.GaugeVec
	QueuePending  *prometheus.GaugeVec
	QueueCapacity *prometheus.GaugeVec
	ItemsEnqueued *prometheus.CounterVec
	ItemsRequeued *prometheus.CounterVec
	EnqueueFaults *prometheus.CounterVec
	Flushes       *prometheus.CounterVec
	FlushWaitTime *prometheus.HistogramVec

	// Worker Pool Metrics
	WorkerPoolSize   *prometheus.GaugeVec
	WorkerPoolActive *prometheus.GaugeVec
	ItemsProcessed   *prometheus.CounterVec
	ProcessDuration  *prometheus.HistogramVec
	EmptyPolls       *prometheus.CounterVec
	DeadLetterErrors *prometheus.CounterVec

	// Producer Metrics
	ProducerFires *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by joinq components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
// Registering twice against the same registerer panics, as with promauto.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Registry: reg, Namespace: DefaultNamespace})
}

// NewRegistryWithConfig creates a registry using the namespace and constant
// labels from config.
func NewRegistryWithConfig(config Config) *Registry {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := config.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	factory := promauto.With(reg)
	labels := config.Labels

	return &Registry{
		QueueItems: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "queue",
				Name:        "items",
				Help:        "Number of items waiting in the queue",
				ConstLabels: labels,
			},
			[]string{"queue_name"},
		),

		QueuePending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "queue",
				Name:        "pending",
				Help:        "Number of items accepted but not yet acknowledged",
				ConstLabels: labels,
			},
			[]string{"queue_name"},
		),

		QueueCapacity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "queue",
				Name:        "capacity",
				Help:        "Configured queue capacity, 0 when unbounded",
				ConstLabels: labels,
			},
			[]string{"queue_name"},
		),

		ItemsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "queue",
				Name:        "enqueued_total",
				Help:        "Total number of items accepted by Put",
				ConstLabels: labels,
			},
			[]string{"queue_name", "operation"},
		),

		ItemsRequeued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "queue",
				Name:        "requeued_total",
				Help:        "Total number of items put back for another attempt",
				ConstLabels: labels,
			},
			[]string{"queue_name", "operation"},
		),

		EnqueueFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "queue",
				Name:        "enqueue_faults_total",
				Help:        "Total number of rejected enqueues",
				ConstLabels: labels,
			},
			[]string{"queue_name"},
		),

		Flushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "queue",
				Name:        "flushes_total",
				Help:        "Total number of blocking flushes",
				ConstLabels: labels,
			},
			[]string{"queue_name", "forced"},
		),

		FlushWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "queue",
				Name:        "flush_wait_seconds",
				Help:        "Time spent blocked in Flush",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"queue_name"},
		),

		WorkerPoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "size",
				Help:        "Current worker pool size",
				ConstLabels: labels,
			},
			[]string{"pool_name"},
		),

		WorkerPoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "active_workers",
				Help:        "Number of workers currently processing an item",
				ConstLabels: labels,
			},
			[]string{"pool_name"},
		),

		ItemsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "items_processed_total",
				Help:        "Total number of processed items by outcome",
				ConstLabels: labels,
			},
			[]string{"pool_name", "outcome"},
		),

		ProcessDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "process_duration_seconds",
				Help:        "Time spent in the processing function",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"pool_name"},
		),

		EmptyPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "empty_polls_total",
				Help:        "Total number of polls that found no item",
				ConstLabels: labels,
			},
			[]string{"pool_name"},
		),

		DeadLetterErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "dead_letter_errors_total",
				Help:        "Total number of failed dead-letter deliveries",
				ConstLabels: labels,
			},
			[]string{"pool_name"},
		),

		ProducerFires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "producer",
				Name:        "fires_total",
				Help:        "Total number of scheduled productions by result",
				ConstLabels: labels,
			},
			[]string{"producer_name", "operation", "result"},
		),
	}
}
