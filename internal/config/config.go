// Package config holds the joinq command configuration: built-in defaults,
// an optional JSON or YAML file and JOINQ_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	jqerrors "github.com/vnykmshr/joinq/pkg/common/errors"
	"github.com/vnykmshr/joinq/pkg/common/validation"
	"github.com/vnykmshr/joinq/pkg/logging"
	"github.com/vnykmshr/joinq/pkg/scheduling/producer"
	"github.com/vnykmshr/joinq/pkg/scheduling/workerpool"
)

// Config is the top-level configuration for the joinq command.
type Config struct {
	Queue      QueueConfig      `json:"queue" yaml:"queue"`
	Workers    WorkersConfig    `json:"workers" yaml:"workers"`
	Retry      RetryConfig      `json:"retry" yaml:"retry"`
	DeadLetter DeadLetterConfig `json:"deadLetter" yaml:"deadLetter"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Schedules  []Schedule       `json:"schedules" yaml:"schedules"`
}

// QueueConfig sizes the work queue.
type QueueConfig struct {
	Name     string `json:"name" yaml:"name"`
	Capacity int    `json:"capacity" yaml:"capacity"`
}

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	Count        int      `json:"count" yaml:"count"`
	PollInterval Duration `json:"pollInterval" yaml:"pollInterval"`

	// Rate caps items started per second across all workers; 0 disables it.
	Rate  float64 `json:"rate" yaml:"rate"`
	Burst int     `json:"burst" yaml:"burst"`
}

// RetryConfig selects the retry policy. MaxAttempts 0 with no delays is the
// unbounded immediate requeue.
type RetryConfig struct {
	MaxAttempts int      `json:"maxAttempts" yaml:"maxAttempts"`
	BaseDelay   Duration `json:"baseDelay" yaml:"baseDelay"`
	MaxDelay    Duration `json:"maxDelay" yaml:"maxDelay"`
	Jitter      float64  `json:"jitter" yaml:"jitter"`
}

// DeadLetterConfig selects where abandoned items go. With RedisAddr set they
// are pushed to a Redis list, otherwise kept in memory.
type DeadLetterConfig struct {
	RedisAddr   string   `json:"redisAddr" yaml:"redisAddr"`
	Key         string   `json:"key" yaml:"key"`
	MaxLen      int64    `json:"maxLen" yaml:"maxLen"`
	TTL         Duration `json:"ttl" yaml:"ttl"`
	MemoryLimit int      `json:"memoryLimit" yaml:"memoryLimit"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Schedule is one cron producer job.
type Schedule struct {
	Spec      string `json:"spec" yaml:"spec"`
	Operation string `json:"operation" yaml:"operation"`
	Payload   string `json:"payload" yaml:"payload"`
}

// Duration is a time.Duration that reads and writes as "1m30s".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats d as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Queue: QueueConfig{
			Name:     "default",
			Capacity: 100,
		},
		Workers: WorkersConfig{
			Count:        workerpool.DefaultWorkers,
			PollInterval: Duration(workerpool.DefaultPollInterval),
			Burst:        1,
		},
		DeadLetter: DeadLetterConfig{
			Key:         "joinq:deadletter",
			MaxLen:      10000,
			MemoryLimit: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logging.FormatText),
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, it returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the whole configuration and returns the first problem.
func (c Config) Validate() error {
	if err := validation.ValidateNonNegative("config", "queue.capacity", c.Queue.Capacity); err != nil {
		return err
	}
	if err := validation.ValidatePositive("config", "workers.count", c.Workers.Count); err != nil {
		return err
	}
	if c.Workers.PollInterval <= 0 {
		return jqerrors.NewValidationError("config", "workers.pollInterval", time.Duration(c.Workers.PollInterval), "must be positive").
			WithHint("try 5s")
	}
	if c.Workers.Rate < 0 {
		return jqerrors.NewValidationError("config", "workers.rate", c.Workers.Rate, "must be non-negative").
			WithHint("use 0 to disable throttling")
	}
	if c.Workers.Rate > 0 {
		if err := validation.ValidatePositive("config", "workers.burst", c.Workers.Burst); err != nil {
			return err
		}
	}
	if err := validation.ValidateNonNegative("config", "retry.maxAttempts", c.Retry.MaxAttempts); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("config", "retry.baseDelay", time.Duration(c.Retry.BaseDelay)); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("config", "retry.maxDelay", time.Duration(c.Retry.MaxDelay)); err != nil {
		return err
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return jqerrors.NewValidationError("config", "retry.jitter", c.Retry.Jitter, "must be between 0 and 1")
	}
	if c.DeadLetter.MaxLen < 0 {
		return jqerrors.NewValidationError("config", "deadLetter.maxLen", c.DeadLetter.MaxLen, "must be non-negative")
	}
	if err := validation.ValidateNonNegative("config", "deadLetter.memoryLimit", c.DeadLetter.MemoryLimit); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return jqerrors.NewValidationError("config", "log.level", c.Log.Level, err.Error()).
			WithHint("use debug, info, warn, error or critical")
	}
	switch logging.Format(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return jqerrors.NewValidationError("config", "log.format", c.Log.Format, "unknown format").
			WithHint("use text or json")
	}
	for i, s := range c.Schedules {
		field := fmt.Sprintf("schedules[%d]", i)
		if err := validation.ValidateNotEmpty("config", field+".operation", s.Operation); err != nil {
			return err
		}
		if err := producer.ValidateSpec(s.Spec); err != nil {
			return err
		}
	}
	return nil
}

// ParseSchedule parses "spec=operation" or "spec=operation:payload".
func ParseSchedule(s string) (Schedule, error) {
	spec, rest, ok := strings.Cut(s, "=")
	if !ok {
		return Schedule{}, jqerrors.NewValidationError("config", "schedule", s, "missing '='").
			WithHint("use \"@every 10s=heartbeat\" or \"*/5 * * * *=scan:payload\"")
	}
	op, payload, _ := strings.Cut(rest, ":")
	sched := Schedule{
		Spec:      strings.TrimSpace(spec),
		Operation: strings.TrimSpace(op),
		Payload:   payload,
	}
	if err := validation.ValidateNotEmpty("config", "schedule.operation", sched.Operation); err != nil {
		return Schedule{}, err
	}
	return sched, nil
}
