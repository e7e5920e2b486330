// Package retry defines how a worker pool decides whether, and when, a failed
// item goes back into the queue.
package retry

import (
	"math"
	"math/rand"
	"time"

	jqerrors "github.com/vnykmshr/joinq/pkg/common/errors"
	"github.com/vnykmshr/joinq/pkg/common/validation"
	"github.com/vnykmshr/joinq/pkg/queue"
)

// Policy decides the fate of an item whose processing reported failure.
// attempt is the 1-based number of failed attempts so far, including the
// one that just happened.
type Policy interface {
	// ShouldRetry reports whether the item gets another attempt.
	ShouldRetry(item queue.WorkItem, attempt int) bool

	// NextAttemptDelay returns how long to hold the item before requeueing
	// it. Zero requeues immediately.
	NextAttemptDelay(item queue.WorkItem, attempt int) time.Duration
}

type immediate struct{}

// Immediate retries every failed item forever, with no delay. It relies on
// the processing function eventually succeeding.
func Immediate() Policy { return immediate{} }

func (immediate) ShouldRetry(queue.WorkItem, int) bool {
	return true
}

func (immediate) NextAttemptDelay(queue.WorkItem, int) time.Duration {
	return 0
}

type limited struct {
	max int
}

// Limited retries immediately until an item has failed maxAttempts times.
func Limited(maxAttempts int) (Policy, error) {
	if err := validation.ValidatePositive("retry", "maxAttempts", maxAttempts); err != nil {
		return nil, err
	}
	return limited{max: maxAttempts}, nil
}

func (l limited) ShouldRetry(_ queue.WorkItem, attempt int) bool {
	return attempt < l.max
}

func (limited) NextAttemptDelay(queue.WorkItem, int) time.Duration {
	return 0
}

// Config holds configuration for an exponential backoff policy.
type Config struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the delay. Zero means no cap.
	Max time.Duration

	// Factor multiplies the delay after every failure. Defaults to 2.
	Factor float64

	// MaxAttempts stops retrying after this many failures. Zero means never stop.
	MaxAttempts int

	// Jitter randomizes each delay by up to this fraction in either direction.
	// Must be in [0, 1].
	Jitter float64
}

type exponential struct {
	config Config
}

// Exponential retries with exponentially growing delays.
func Exponential(config Config) (Policy, error) {
	if config.Factor == 0 {
		config.Factor = 2
	}
	if err := validation.ValidateNonNegativeDuration("retry", "base", config.Base); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration("retry", "max", config.Max); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveFloat("retry", "factor", config.Factor); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("retry", "maxAttempts", config.MaxAttempts); err != nil {
		return nil, err
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		return nil, jqerrors.NewValidationError("retry", "jitter", config.Jitter, "must be between 0 and 1").
			WithHint("use 0.1 for +/-10% randomization")
	}
	return exponential{config: config}, nil
}

func (e exponential) ShouldRetry(_ queue.WorkItem, attempt int) bool {
	return e.config.MaxAttempts == 0 || attempt < e.config.MaxAttempts
}

func (e exponential) NextAttemptDelay(_ queue.WorkItem, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(e.config.Base) * math.Pow(e.config.Factor, float64(attempt-1))
	if e.config.Max > 0 && delay > float64(e.config.Max) {
		delay = float64(e.config.Max)
	}
	if e.config.Jitter > 0 {
		delay += delay * e.config.Jitter * (2*rand.Float64() - 1)
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
