package producer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	jqerrors "github.com/vnykmshr/joinq/pkg/common/errors"
	"github.com/vnykmshr/joinq/pkg/common/validation"
	"github.com/vnykmshr/joinq/pkg/logging"
	"github.com/vnykmshr/joinq/pkg/metrics"
)

// Fire results recorded in the producer_fires_total metric.
const (
	ResultEnqueued = "enqueued"
	ResultRejected = "rejected"
	ResultCanceled = "canceled"
)

// Putter is the part of queue.Queue a producer needs.
type Putter interface {
	PutContext(ctx context.Context, operation string, payload any, date time.Time) (bool, error)
}

// PayloadFunc builds the payload for one fire. firedAt is in UTC.
type PayloadFunc func(firedAt time.Time) any

// parser accepts the standard five fields, an optional leading seconds
// field and descriptors such as "@hourly" or "@every 30s".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config holds configuration options for a cron producer.
type Config struct {
	// Name labels log records and metrics. Defaults to "cron".
	Name string

	// Location is the time zone schedules are evaluated in. Defaults to time.Local.
	Location *time.Location

	// SkipIfStillRunning skips a fire while the previous fire of the same
	// job is still blocked on a full queue.
	SkipIfStillRunning bool

	// Logger receives producer events. If nil, nothing is logged.
	Logger *slog.Logger

	// Metrics records fire counts. If nil, nothing is recorded.
	Metrics *metrics.Registry
}

// JobOptions tunes a single scheduled job.
type JobOptions struct {
	// MaxRuns removes the job after it has fired this many times. Zero means unlimited.
	MaxRuns int
}

// Job describes a scheduled job.
type Job struct {
	ID        cron.EntryID
	Spec      string
	Operation string
	Runs      int
	Next      time.Time
	Prev      time.Time
}

type job struct {
	id        cron.EntryID
	spec      string
	operation string
	payload   PayloadFunc
	maxRuns   int
	runs      int
}

// Cron puts items into a queue on cron schedules.
type Cron struct {
	name    string
	putter  Putter
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *metrics.Registry
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[cron.EntryID]*job
}

// New creates a stopped producer that puts into p.
func New(p Putter, config Config) (*Cron, error) {
	if p == nil {
		return nil, validation.ValidateNotNil("producer", "putter", nil)
	}
	if config.Name == "" {
		config.Name = "cron"
	}
	if config.Location == nil {
		config.Location = time.Local
	}

	logger := logging.OrDiscard(config.Logger).With("producer", config.Name)

	wrappers := []cron.JobWrapper{cron.Recover(cronLogger{logger})}
	if config.SkipIfStillRunning {
		wrappers = append(wrappers, cron.SkipIfStillRunning(cronLogger{logger}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cron{
		name:   config.Name,
		putter: p,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(config.Location),
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(wrappers...),
		),
		logger:  logger,
		metrics: config.Metrics,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[cron.EntryID]*job),
	}, nil
}

// ValidateSpec reports whether spec is a schedule Add would accept.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return jqerrors.NewValidationError("producer", "spec", spec, err.Error()).
			WithHint("use five fields (\"*/5 * * * *\"), six with seconds, or a descriptor such as \"@every 30s\"")
	}
	return nil
}

// Add schedules operation on spec. Every fire puts a new item whose payload
// is payload(firedAt) and whose date is the fire time. A nil payload
// function uses the fire time itself as the payload.
func (c *Cron) Add(spec, operation string, payload PayloadFunc) (cron.EntryID, error) {
	return c.AddWithOptions(spec, operation, payload, JobOptions{})
}

// AddWithOptions is Add with per-job options.
func (c *Cron) AddWithOptions(spec, operation string, payload PayloadFunc, opts JobOptions) (cron.EntryID, error) {
	if err := validation.ValidateNotEmpty("producer", "operation", operation); err != nil {
		return 0, err
	}
	if err := validation.ValidateNonNegative("producer", "maxRuns", opts.MaxRuns); err != nil {
		return 0, err
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return 0, ValidateSpec(spec)
	}
	if payload == nil {
		payload = func(firedAt time.Time) any { return firedAt }
	}

	j := &job{spec: spec, operation: operation, payload: payload, maxRuns: opts.MaxRuns}

	c.mu.Lock()
	defer c.mu.Unlock()

	j.id = c.cron.Schedule(schedule, cron.FuncJob(func() { c.fire(j) }))
	c.jobs[j.id] = j
	c.logger.Info("job scheduled", "id", j.id, "spec", spec, "operation", operation)
	return j.id, nil
}

// Remove unschedules a job. Unknown ids are ignored.
func (c *Cron) Remove(id cron.EntryID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.jobs[id]; !ok {
		return
	}
	c.cron.Remove(id)
	delete(c.jobs, id)
	c.logger.Info("job removed", "id", id)
}

// Start begins firing jobs in its own goroutine.
func (c *Cron) Start() {
	c.cron.Start()
	c.logger.Info("producer started")
}

// Stop halts the schedule and cancels any fire blocked on a full queue. It
// waits for running fires to return or for ctx to be done. A stopped
// producer cannot be restarted.
func (c *Cron) Stop(ctx context.Context) error {
	c.cancel()
	done := c.cron.Stop()

	select {
	case <-done.Done():
		c.logger.Info("producer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the scheduled jobs ordered by next fire time.
func (c *Cron) Entries() []Job {
	entries := c.cron.Entries()

	c.mu.Lock()
	defer c.mu.Unlock()

	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		j, ok := c.jobs[e.ID]
		if !ok {
			continue
		}
		jobs = append(jobs, Job{
			ID:        e.ID,
			Spec:      j.spec,
			Operation: j.operation,
			Runs:      j.runs,
			Next:      e.Next,
			Prev:      e.Prev,
		})
	}
	return jobs
}

// fire puts one item for j and retires j once it reaches its run limit.
func (c *Cron) fire(j *job) {
	c.mu.Lock()
	id := j.id
	if _, ok := c.jobs[id]; !ok {
		c.mu.Unlock()
		return
	}
	j.runs++
	if j.maxRuns > 0 && j.runs >= j.maxRuns {
		c.cron.Remove(id)
		delete(c.jobs, id)
	}
	c.mu.Unlock()

	firedAt := c.now().UTC()
	ok, err := c.putter.PutContext(c.ctx, j.operation, j.payload(firedAt), firedAt)

	result := ResultEnqueued
	switch {
	case !ok && err != nil:
		result = ResultCanceled
		c.logger.Warn("fire canceled before enqueue", "id", id, "operation", j.operation, "error", err)
	case !ok:
		result = ResultRejected
		c.logger.Error("queue rejected item", "id", id, "operation", j.operation)
	default:
		c.logger.Debug("item produced", "id", id, "operation", j.operation, "fired_at", firedAt)
	}

	if c.metrics != nil {
		c.metrics.ProducerFires.WithLabelValues(c.name, j.operation, result).Inc()
	}
}

// cronLogger routes cron's internal logging to slog. Scheduler chatter goes
// to debug; recovered panics go to error.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", fmt.Sprint(err))...)
}
