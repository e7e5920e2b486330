package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	jqerrors "github.com/vnykmshr/joinq/pkg/common/errors"
	"github.com/vnykmshr/joinq/pkg/deadletter"
	"github.com/vnykmshr/joinq/pkg/logging"
	"github.com/vnykmshr/joinq/pkg/metrics"
	"github.com/vnykmshr/joinq/pkg/queue"
)

// run is the main loop for a worker.
func (p *Pool) run(id int) {
	defer p.workerWg.Done()

	if p.config.OnWorkerStart != nil {
		p.config.OnWorkerStart(id)
	}
	if p.config.OnWorkerStop != nil {
		defer p.config.OnWorkerStop(id)
	}

	logger := p.logger.With("worker", id)
	for {
		item, err := p.poll()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				logger.Info("queue is empty")
				p.emptyPolls.Add(1)
				if p.config.Metrics != nil {
					p.config.Metrics.EmptyPolls.WithLabelValues(p.config.Name).Inc()
				}
				continue
			case errors.Is(err, jqerrors.ErrClosed):
				logger.Info("queue closed, worker exiting")
			}
			return
		}

		logger.Info("get item", "item", item.String())
		p.handle(logger, item)
	}
}

// poll waits up to PollInterval for an item. It returns
// context.DeadlineExceeded on an empty poll and context.Canceled once the
// pool is stopping.
func (p *Pool) poll() (queue.WorkItem, error) {
	if err := p.ctx.Err(); err != nil {
		return queue.WorkItem{}, err
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.config.PollInterval)
	defer cancel()

	item, err := p.queue.GetContext(ctx)
	if err != nil && p.ctx.Err() != nil {
		return item, p.ctx.Err()
	}
	return item, err
}

// handle resolves one retrieved item and acknowledges it exactly once,
// either here or, for delayed retries, once the item is back in the queue.
func (p *Pool) handle(logger *slog.Logger, item queue.WorkItem) {
	if p.config.Limiter != nil {
		if err := p.config.Limiter.Wait(p.ctx); err != nil {
			// Stopping while throttled: put the item back untouched.
			logger.Info("returning throttled item", "item", item.String())
			p.queue.Requeue(item)
			p.queue.Acknowledge()
			return
		}
	}

	p.setActive(1)
	defer p.setActive(-1)
	p.processed.Add(1)

	ok, err := p.process(logger, item)
	switch {
	case err != nil:
		attempts := p.forget(item) + 1
		p.panics.Add(1)
		p.observe(metrics.OutcomePanicked)
		p.deadLetter(logger, item, deadletter.ReasonPanic, attempts, err)
		p.queue.Acknowledge()

	case ok:
		p.forget(item)
		p.consumed.Add(1)
		p.observe(metrics.OutcomeConsumed)
		p.queue.Acknowledge()

	default:
		attempt := p.recordFailure(item)
		if !p.config.Retry.ShouldRetry(item, attempt) {
			p.forget(item)
			p.deadLetter(logger, item, deadletter.ReasonRetriesExhausted, attempt, jqerrors.ErrRetriesExhausted)
			p.queue.Acknowledge()
			return
		}

		delay := p.config.Retry.NextAttemptDelay(item, attempt)
		if delay <= 0 {
			p.requeue(logger, item, attempt)
			p.queue.Acknowledge()
			return
		}

		logger.Info("delaying re-queue", "item", item.String(), "attempt", attempt, "delay", delay)
		p.delayedWg.Add(1)
		go p.requeueAfter(logger, item, attempt, delay)
	}
}

// process calls the processing function, converting a panic into an error
// unless PropagatePanics is set.
func (p *Pool) process(logger *slog.Logger, item queue.WorkItem) (ok bool, err error) {
	start := time.Now()
	defer func() {
		if p.config.Metrics != nil {
			p.config.Metrics.ProcessDuration.WithLabelValues(p.config.Name).Observe(time.Since(start).Seconds())
		}
	}()

	if !p.config.PropagatePanics {
		defer func() {
			if r := recover(); r != nil {
				logging.Critical(logger, "processing panicked", "item", item.String(), "panic", r, "stack", string(debug.Stack()))
				if p.config.PanicHandler != nil {
					p.config.PanicHandler(item, r)
				}
				err = fmt.Errorf("%w: %v", jqerrors.ErrProcessingPanic, r)
			}
		}()
	}

	return p.config.Process(p.ctx, item), nil
}

// requeueAfter holds a failed item for delay, or until the pool stops, then
// puts it back and acknowledges the retrieval it came from.
func (p *Pool) requeueAfter(logger *slog.Logger, item queue.WorkItem, attempt int, delay time.Duration) {
	defer p.delayedWg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-p.ctx.Done():
	}

	p.requeue(logger, item, attempt)
	p.queue.Acknowledge()
}

func (p *Pool) requeue(logger *slog.Logger, item queue.WorkItem, attempt int) {
	logger.Info("re-queue item", "item", item.String(), "attempt", attempt)
	if !p.queue.Requeue(item) {
		// The queue logged the fault; the item is lost.
		p.forget(item)
		return
	}
	p.requeued.Add(1)
	p.observe(metrics.OutcomeRequeued)
}

func (p *Pool) deadLetter(logger *slog.Logger, item queue.WorkItem, reason deadletter.Reason, attempts int, cause error) {
	if p.config.DeadLetter == nil {
		logger.Warn("dropping item", "item", item.String(), "reason", reason, "attempts", attempts)
		p.dropped.Add(1)
		p.observe(metrics.OutcomeDropped)
		return
	}

	entry := deadletter.NewEntry(item, reason, attempts, cause)
	if err := p.config.DeadLetter.Send(context.Background(), entry); err != nil {
		logger.Error("dead-letter delivery failed", "item", item.String(), "reason", reason, "error", err)
		p.dropped.Add(1)
		if p.config.Metrics != nil {
			p.config.Metrics.DeadLetterErrors.WithLabelValues(p.config.Name).Inc()
		}
		p.observe(metrics.OutcomeDropped)
		return
	}

	logger.Warn("dead-lettered item", "item", item.String(), "reason", reason, "attempts", attempts)
	p.deadLettered.Add(1)
	if reason != deadletter.ReasonPanic {
		p.observe(metrics.OutcomeDeadLettered)
	}
}

// recordFailure increments and returns the failed-attempt count for item.
func (p *Pool) recordFailure(item queue.WorkItem) int {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()
	p.attempts[item.ID()]++
	return p.attempts[item.ID()]
}

// forget clears item's attempt count and returns what it was.
func (p *Pool) forget(item queue.WorkItem) int {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()
	n := p.attempts[item.ID()]
	delete(p.attempts, item.ID())
	return n
}

func (p *Pool) setActive(delta int64) {
	n := p.active.Add(delta)
	if p.config.Metrics != nil {
		p.config.Metrics.WorkerPoolActive.WithLabelValues(p.config.Name).Set(float64(n))
	}
}

func (p *Pool) observe(outcome string) {
	if p.config.Metrics != nil {
		p.config.Metrics.ItemsProcessed.WithLabelValues(p.config.Name, outcome).Inc()
	}
}
