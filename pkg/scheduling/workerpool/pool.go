package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/joinq/pkg/common/validation"
	"github.com/vnykmshr/joinq/pkg/deadletter"
	"github.com/vnykmshr/joinq/pkg/logging"
	"github.com/vnykmshr/joinq/pkg/metrics"
	"github.com/vnykmshr/joinq/pkg/queue"
	"github.com/vnykmshr/joinq/pkg/retry"
)

// DefaultWorkers is the pool size used when Config.Workers is zero.
const DefaultWorkers = 10

// DefaultPollInterval bounds how long a worker waits for an item before
// logging an empty queue and polling again.
const DefaultPollInterval = 5 * time.Second

// ProcessFunc resolves one item. Returning true consumes the item; returning
// false hands it to the retry policy. It is called concurrently from every
// worker and must be safe for that. ctx is canceled when the pool stops.
type ProcessFunc func(ctx context.Context, item queue.WorkItem) bool

// Limiter paces item processing; *ratelimit.Limiter implements it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// Name labels log records and metrics. Defaults to "default".
	Name string

	// Workers is the number of worker goroutines. Defaults to DefaultWorkers.
	Workers int

	// Process resolves each item. Defaults to DefaultProcess.
	Process ProcessFunc

	// Retry decides what happens to items Process rejects.
	// Defaults to retry.Immediate(), which requeues forever without delay.
	Retry retry.Policy

	// DeadLetter receives items the pool gives up on. If nil they are
	// logged and dropped.
	DeadLetter deadletter.Sink

	// Limiter, if set, is waited on before each item is processed. It is
	// shared by all workers, so it bounds the pool's overall rate.
	Limiter Limiter

	// PollInterval is the bounded wait for an item. Defaults to DefaultPollInterval.
	PollInterval time.Duration

	// PropagatePanics lets a panic in Process escape the worker goroutine,
	// which terminates the program. By default panics are recovered, the
	// item is dead-lettered and the worker keeps running.
	PropagatePanics bool

	// PanicHandler is called with every recovered panic value.
	PanicHandler func(item queue.WorkItem, recovered interface{})

	// OnWorkerStart is called when a worker starts.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called when a worker stops.
	OnWorkerStop func(workerID int)

	// Logger receives worker events. If nil, nothing is logged.
	Logger *slog.Logger

	// Metrics records pool gauges and counters. If nil, nothing is recorded.
	Metrics *metrics.Registry
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Processed    int64
	Consumed     int64
	Requeued     int64
	DeadLettered int64
	Dropped      int64
	Panics       int64
	EmptyPolls   int64
}

// Pool runs a fixed number of workers against one queue.
type Pool struct {
	config Config
	queue  *queue.Queue
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	workerWg  sync.WaitGroup
	delayedWg sync.WaitGroup
	stopOnce  sync.Once
	stopped   chan struct{}

	attemptsMu sync.Mutex
	attempts   map[string]int

	active       atomic.Int64
	processed    atomic.Int64
	consumed     atomic.Int64
	requeued     atomic.Int64
	deadLettered atomic.Int64
	dropped      atomic.Int64
	panics       atomic.Int64
	emptyPolls   atomic.Int64
}

// New validates config and starts config.Workers workers draining q.
// The workers run until Stop is called or q is closed and drained; in the
// latter case Stop still has to be called to release the pool.
func New(q *queue.Queue, config Config) (*Pool, error) {
	if q == nil {
		return nil, validation.ValidateNotNil("workerpool", "queue", nil)
	}
	if config.Workers == 0 {
		config.Workers = DefaultWorkers
	}
	if err := validation.ValidatePositive("workerpool", "workers", config.Workers); err != nil {
		return nil, err
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if err := validation.ValidateNonNegativeDuration("workerpool", "pollInterval", config.PollInterval); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if config.Process == nil {
		config.Process = DefaultProcess
	}
	if config.Retry == nil {
		config.Retry = retry.Immediate()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config:   config,
		queue:    q,
		logger:   logging.OrDiscard(config.Logger).With("pool", config.Name, "queue", q.Name()),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
		attempts: make(map[string]int),
	}

	if p.config.Metrics != nil {
		p.config.Metrics.WorkerPoolSize.WithLabelValues(p.config.Name).Set(float64(config.Workers))
		p.config.Metrics.WorkerPoolActive.WithLabelValues(p.config.Name).Set(0)
	}

	p.workerWg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go p.run(i)
	}
	p.logger.Info("worker pool started", "workers", config.Workers)

	return p, nil
}

// Stop cancels the workers and waits for them to exit. A worker finishes
// resolving the item it holds; items waiting out a retry delay are requeued
// at once. Items still in the queue stay there. Stop returns ctx.Err() if
// the workers have not exited before ctx is done; calling it again waits
// for the same shutdown.
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.cancel()
		go func() {
			p.workerWg.Wait()
			p.delayedWg.Wait()
			p.logger.Info("worker pool stopped")
			close(p.stopped)
		}()
	})

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return p.config.Workers
}

// Name returns the configured pool name.
func (p *Pool) Name() string {
	return p.config.Name
}

// Active returns the number of workers currently processing an item.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Processed:    p.processed.Load(),
		Consumed:     p.consumed.Load(),
		Requeued:     p.requeued.Load(),
		DeadLettered: p.deadLettered.Load(),
		Dropped:      p.dropped.Load(),
		Panics:       p.panics.Load(),
		EmptyPolls:   p.emptyPolls.Load(),
	}
}
