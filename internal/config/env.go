package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays JOINQ_* environment variables onto cfg. Unparseable
// values are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("JOINQ_QUEUE_NAME"); v != "" {
		cfg.Queue.Name = v
	}
	if v := os.Getenv("JOINQ_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Capacity = n
		}
	}
	if v := os.Getenv("JOINQ_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.Count = n
		}
	}
	if v := os.Getenv("JOINQ_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Workers.PollInterval = Duration(d)
		}
	}
	if v := os.Getenv("JOINQ_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Workers.Rate = f
		}
	}
	if v := os.Getenv("JOINQ_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.Burst = n
		}
	}
	if v := os.Getenv("JOINQ_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("JOINQ_RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retry.BaseDelay = Duration(d)
		}
	}
	if v := os.Getenv("JOINQ_RETRY_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retry.MaxDelay = Duration(d)
		}
	}
	if v := os.Getenv("JOINQ_RETRY_JITTER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retry.Jitter = f
		}
	}
	if v := os.Getenv("JOINQ_REDIS_ADDR"); v != "" {
		cfg.DeadLetter.RedisAddr = v
	}
	if v := os.Getenv("JOINQ_DEADLETTER_KEY"); v != "" {
		cfg.DeadLetter.Key = v
	}
	if v := os.Getenv("JOINQ_DEADLETTER_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DeadLetter.TTL = Duration(d)
		}
	}
	if v := os.Getenv("JOINQ_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("JOINQ_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("JOINQ_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	// Cron specs may contain commas, so schedules are separated by ';'.
	if v := os.Getenv("JOINQ_SCHEDULES"); v != "" {
		cfg.Schedules = nil
		for _, part := range strings.Split(v, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if s, err := ParseSchedule(part); err == nil {
				cfg.Schedules = append(cfg.Schedules, s)
			}
		}
	}
}
