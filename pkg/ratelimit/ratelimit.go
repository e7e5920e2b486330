// Package ratelimit throttles how fast workers start processing items.
//
// Limiter is a token bucket: tokens refill at Rate per second up to Burst,
// and every processed item spends one. A worker pool given a Limiter waits
// for a token before each item, so the pool as a whole never exceeds Rate
// items per second after an initial burst, however many workers it runs.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	jqerrors "github.com/vnykmshr/joinq/pkg/common/errors"
	"github.com/vnykmshr/joinq/pkg/queue"
)

// Inf is a rate that never throttles.
var Inf = math.Inf(1)

// Every converts a minimum interval between items to a rate.
func Every(interval time.Duration) float64 {
	if interval <= 0 {
		return Inf
	}
	return float64(time.Second) / float64(interval)
}

// Config holds configuration options for a Limiter.
type Config struct {
	// Rate is the number of tokens added per second.
	Rate float64

	// Burst is the maximum number of stored tokens. The bucket starts full.
	Burst int

	// Clock provides the current time. Defaults to queue.SystemClock.
	Clock queue.Clock
}

// Limiter is a goroutine-safe token bucket.
type Limiter struct {
	mu         sync.Mutex
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	clock      queue.Clock
}

// New creates a Limiter allowing rate items per second with the given burst.
func New(rate float64, burst int) (*Limiter, error) {
	return NewWithConfig(Config{Rate: rate, Burst: burst})
}

// NewWithConfig creates a Limiter from config.
func NewWithConfig(config Config) (*Limiter, error) {
	if config.Rate <= 0 || math.IsNaN(config.Rate) {
		return nil, jqerrors.NewValidationError("ratelimit", "rate", config.Rate, "rate must be positive").
			WithHint("use ratelimit.Inf to disable throttling")
	}
	if config.Burst <= 0 {
		return nil, jqerrors.NewValidationError("ratelimit", "burst", config.Burst, "burst must be positive").
			WithHint("burst determines how many items can start back to back")
	}
	if config.Clock == nil {
		config.Clock = queue.SystemClock{}
	}
	return &Limiter{
		rate:       config.Rate,
		burst:      config.Burst,
		tokens:     float64(config.Burst),
		lastUpdate: config.Clock.Now(),
		clock:      config.Clock,
	}, nil
}

// Allow spends a token if one is available now. It never blocks.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(l.clock.Now())
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done. A canceled wait
// gives its token back.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	delay := l.reserve()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.release()
		return ctx.Err()
	}
}

// Tokens returns the number of tokens available now. It is negative while
// waiters hold reservations.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(l.clock.Now())
	return l.tokens
}

// Rate returns the refill rate in tokens per second.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Burst returns the bucket size.
func (l *Limiter) Burst() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.burst
}

// reserve takes one token, possibly going into debt, and returns how long
// the caller must wait before using it.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if math.IsInf(l.rate, 1) {
		return 0
	}

	l.refill(l.clock.Now())
	l.tokens--
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) * -l.tokens / l.rate)
}

func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(l.clock.Now())
	l.tokens = math.Min(l.tokens+1, float64(l.burst))
}

// refill adds the tokens earned since the last update.
func (l *Limiter) refill(now time.Time) {
	if math.IsInf(l.rate, 1) {
		l.tokens = float64(l.burst)
		l.lastUpdate = now
		return
	}

	elapsed := now.Sub(l.lastUpdate)
	if elapsed <= 0 {
		return
	}
	l.tokens = math.Min(l.tokens+elapsed.Seconds()*l.rate, float64(l.burst))
	l.lastUpdate = now
}
