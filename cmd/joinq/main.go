package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vnykmshr/joinq/internal/config"
	"github.com/vnykmshr/joinq/internal/service"
	"github.com/vnykmshr/joinq/pkg/deadletter"
	"github.com/vnykmshr/joinq/pkg/logging"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "joinq",
		Short:         "Bounded work queue with a retrying worker pool",
		Long:          "joinq runs a bounded in-process work queue drained by a fixed pool of workers, fed by cron schedules.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().String("config", os.Getenv("JOINQ_CONFIG"), "Config file (.json, .yaml or .yml)")

	rootCmd.AddCommand(newRunCommand(stderr))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDeadLetterCommand())
	return rootCmd
}

func newRunCommand(logOut io.Writer) *cobra.Command {
	runCmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the queue, workers and schedules until interrupted",
		Aliases: []string{"start"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(logOut, cfg.Log)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := service.Run(ctx, service.Options{Config: cfg, Logger: logger}); err != nil {
				return fmt.Errorf("service error: %w", err)
			}
			return nil
		},
	}

	flags := runCmd.Flags()
	flags.Int("capacity", 0, "Queue capacity (0 = unbounded)")
	flags.Int("workers", 0, "Number of workers")
	flags.Duration("poll-interval", 0, "How long a worker waits for an item before logging an empty queue")
	flags.Float64("rate", 0, "Maximum items started per second across all workers (0 = unlimited)")
	flags.Int("burst", 0, "Items that may start back to back when --rate is set")
	flags.Int("max-attempts", 0, "Dead-letter items after this many failed attempts (0 = retry forever)")
	flags.Duration("base-delay", 0, "Delay before the first retry; doubles on every failure (0 = requeue immediately)")
	flags.Duration("max-delay", 0, "Cap on the retry delay")
	flags.String("redis-addr", "", "Redis address for dead-lettered items (empty = keep in memory)")
	flags.String("deadletter-key", "", "Redis list key for dead-lettered items")
	flags.String("metrics-addr", "", "Address serving /metrics, /health and /deadletter (empty = disabled)")
	flags.String("log-level", "", "Log level: debug|info|warn|error|critical")
	flags.String("log-format", "", "Log format: text|json")
	flags.StringArray("schedule", nil, "Cron producer as \"spec=operation[:payload]\"; repeatable")
	return runCmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func newDeadLetterCommand() *cobra.Command {
	dlCmd := &cobra.Command{Use: "deadletter", Short: "Inspect dead-lettered items"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered items stored in Redis, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DeadLetter.RedisAddr == "" {
				return fmt.Errorf("no Redis address configured; use --redis-addr or JOINQ_REDIS_ADDR")
			}
			limit, _ := cmd.Flags().GetInt("limit")

			client := redis.NewClient(&redis.Options{Addr: cfg.DeadLetter.RedisAddr})
			defer client.Close()

			sink, err := deadletter.NewRedis(deadletter.RedisConfig{Client: client, Key: cfg.DeadLetter.Key})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			entries, err := sink.Entries(ctx)
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	listCmd.Flags().String("redis-addr", "", "Redis address")
	listCmd.Flags().String("deadletter-key", "", "Redis list key")
	listCmd.Flags().Int("limit", 0, "Print at most this many entries (0 = all)")
	dlCmd.AddCommand(listCmd)
	return dlCmd
}

// loadConfig layers defaults, the config file, JOINQ_* variables and any
// flags set on cmd, in that order, and validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	config.FromEnv(&cfg)

	flags := cmd.Flags()
	if flags.Changed("capacity") {
		cfg.Queue.Capacity, _ = flags.GetInt("capacity")
	}
	if flags.Changed("workers") {
		cfg.Workers.Count, _ = flags.GetInt("workers")
	}
	if flags.Changed("poll-interval") {
		d, _ := flags.GetDuration("poll-interval")
		cfg.Workers.PollInterval = config.Duration(d)
	}
	if flags.Changed("rate") {
		cfg.Workers.Rate, _ = flags.GetFloat64("rate")
	}
	if flags.Changed("burst") {
		cfg.Workers.Burst, _ = flags.GetInt("burst")
	}
	if flags.Changed("max-attempts") {
		cfg.Retry.MaxAttempts, _ = flags.GetInt("max-attempts")
	}
	if flags.Changed("base-delay") {
		d, _ := flags.GetDuration("base-delay")
		cfg.Retry.BaseDelay = config.Duration(d)
	}
	if flags.Changed("max-delay") {
		d, _ := flags.GetDuration("max-delay")
		cfg.Retry.MaxDelay = config.Duration(d)
	}
	if flags.Changed("redis-addr") {
		cfg.DeadLetter.RedisAddr, _ = flags.GetString("redis-addr")
	}
	if flags.Changed("deadletter-key") {
		cfg.DeadLetter.Key, _ = flags.GetString("deadletter-key")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("schedule") {
		specs, _ := flags.GetStringArray("schedule")
		cfg.Schedules = nil
		for _, s := range specs {
			sched, err := config.ParseSchedule(s)
			if err != nil {
				return config.Config{}, err
			}
			cfg.Schedules = append(cfg.Schedules, sched)
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(w, logging.Options{
		Level:     level,
		Format:    logging.Format(lc.Format),
		Component: "joinq",
	}), nil
}
