// Package service wires a queue, its worker pool, the cron producer, the
// dead-letter sink and the metrics endpoint into one runnable unit.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/joinq/internal/config"
	"github.com/vnykmshr/joinq/pkg/deadletter"
	"github.com/vnykmshr/joinq/pkg/logging"
	"github.com/vnykmshr/joinq/pkg/metrics"
	"github.com/vnykmshr/joinq/pkg/queue"
	"github.com/vnykmshr/joinq/pkg/ratelimit"
	"github.com/vnykmshr/joinq/pkg/retry"
	"github.com/vnykmshr/joinq/pkg/scheduling/producer"
	"github.com/vnykmshr/joinq/pkg/scheduling/workerpool"
)

// DefaultShutdownTimeout bounds Run's graceful shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// Options configures New.
type Options struct {
	Config config.Config

	// Process resolves items. Defaults to workerpool.DefaultProcess.
	Process workerpool.ProcessFunc

	// Logger defaults to a discarding logger.
	Logger *slog.Logger

	// Registry is where metrics are registered. Defaults to a fresh
	// registry with the Go and process collectors.
	Registry *prometheus.Registry
}

// Service is a running joinq instance.
type Service struct {
	config     config.Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Registry
	queue      *queue.Queue
	pool       *workerpool.Pool
	producer   *producer.Cron
	deadLetter deadletter.Sink
	redis      *redis.Client
	httpServer *http.Server
	listener   net.Listener
}

// New validates cfg and builds every component. Workers start immediately;
// the producer and HTTP endpoint start with Start.
func New(opts Options) (*Service, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		config:   cfg,
		logger:   logging.OrDiscard(opts.Logger),
		registry: opts.Registry,
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	s.metrics = metrics.NewRegistry(s.registry)

	sink, err := s.buildDeadLetter()
	if err != nil {
		return nil, err
	}
	s.deadLetter = sink

	policy, err := buildRetry(cfg.Retry)
	if err != nil {
		s.closeRedis()
		return nil, err
	}

	s.queue, err = queue.New(queue.Config{
		Name:     cfg.Queue.Name,
		Capacity: cfg.Queue.Capacity,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})
	if err != nil {
		s.closeRedis()
		return nil, err
	}

	s.producer, err = producer.New(s.queue, producer.Config{
		Name:    cfg.Queue.Name,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	if err != nil {
		s.closeRedis()
		return nil, err
	}
	for _, sched := range cfg.Schedules {
		payload := sched.Payload
		if _, err := s.producer.Add(sched.Spec, sched.Operation, func(time.Time) any { return payload }); err != nil {
			s.closeRedis()
			return nil, fmt.Errorf("schedule %q: %w", sched.Spec, err)
		}
	}

	var limiter workerpool.Limiter
	if cfg.Workers.Rate > 0 {
		l, err := ratelimit.New(cfg.Workers.Rate, cfg.Workers.Burst)
		if err != nil {
			s.closeRedis()
			return nil, err
		}
		limiter = l
	}

	s.pool, err = workerpool.New(s.queue, workerpool.Config{
		Name:         cfg.Queue.Name,
		Workers:      cfg.Workers.Count,
		PollInterval: time.Duration(cfg.Workers.PollInterval),
		Process:      opts.Process,
		Retry:        policy,
		Limiter:      limiter,
		DeadLetter:   sink,
		Logger:       s.logger,
		Metrics:      s.metrics,
	})
	if err != nil {
		s.closeRedis()
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/deadletter", s.handleDeadLetter)
	s.httpServer = &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return s, nil
}

func (s *Service) buildDeadLetter() (deadletter.Sink, error) {
	dl := s.config.DeadLetter
	if dl.RedisAddr == "" {
		return deadletter.NewMemory(dl.MemoryLimit), nil
	}

	s.redis = redis.NewClient(&redis.Options{Addr: dl.RedisAddr})
	sink, err := deadletter.NewRedis(deadletter.RedisConfig{
		Client: s.redis,
		Key:    dl.Key,
		MaxLen: dl.MaxLen,
		TTL:    time.Duration(dl.TTL),
	})
	if err != nil {
		s.closeRedis()
		return nil, err
	}
	return sink, nil
}

func buildRetry(rc config.RetryConfig) (retry.Policy, error) {
	switch {
	case rc.BaseDelay > 0:
		return retry.Exponential(retry.Config{
			Base:        time.Duration(rc.BaseDelay),
			Max:         time.Duration(rc.MaxDelay),
			MaxAttempts: rc.MaxAttempts,
			Jitter:      rc.Jitter,
		})
	case rc.MaxAttempts > 0:
		return retry.Limited(rc.MaxAttempts)
	default:
		return retry.Immediate(), nil
	}
}

// Queue returns the service queue, for in-process producers.
func (s *Service) Queue() *queue.Queue {
	return s.queue
}

// Pool returns the worker pool.
func (s *Service) Pool() *workerpool.Pool {
	return s.pool
}

// Addr returns the bound HTTP address, or "" if the endpoint is disabled or
// not started.
func (s *Service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start starts the cron producer and, if configured, the HTTP endpoint.
func (s *Service) Start() error {
	if s.config.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", s.config.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.config.Metrics.Addr, err)
		}
		s.listener = ln
		go func() {
			if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http server error", "error", err)
			}
		}()
		s.logger.Info("http endpoint listening", "addr", ln.Addr().String())
	}

	s.producer.Start()
	s.logger.Info("service started",
		"queue", s.queue.Name(),
		"capacity", s.queue.Capacity(),
		"workers", s.pool.Size(),
		"schedules", len(s.config.Schedules),
	)
	return nil
}

// Shutdown stops producing, stops the workers, closes the queue and the
// HTTP endpoint. Items still queued are logged and abandoned.
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	if err := s.producer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop producer: %w", err))
	}
	if err := s.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop pool: %w", err))
	}
	s.queue.Close()
	if n := s.queue.Len(); n > 0 {
		s.logger.Warn("abandoning queued items", "count", n)
	}
	if s.listener != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http: %w", err))
		}
	}
	s.closeRedis()

	stats := s.pool.Stats()
	s.logger.Info("shutdown complete",
		"processed", stats.Processed,
		"consumed", stats.Consumed,
		"requeued", stats.Requeued,
		"dead_lettered", stats.DeadLettered,
	)
	return errors.Join(errs...)
}

// Run starts the service and blocks until ctx is done, then shuts down
// within DefaultShutdownTimeout.
func Run(ctx context.Context, opts Options) error {
	s, err := New(opts)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return errors.Join(err, s.Shutdown(shutdownCtx))
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Service) closeRedis() {
	if s.redis == nil {
		return
	}
	if err := s.redis.Close(); err != nil {
		s.logger.Warn("closing redis client", "error", err)
	}
	s.redis = nil
}

type healthResponse struct {
	Status   string           `json:"status"`
	Queue    string           `json:"queue"`
	Items    int              `json:"items"`
	Pending  int              `json:"pending"`
	Capacity int              `json:"capacity"`
	Workers  int              `json:"workers"`
	Active   int              `json:"active"`
	Stats    workerpool.Stats `json:"stats"`
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.queue.Closed() {
		status = "closed"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:   status,
		Queue:    s.queue.Name(),
		Items:    s.queue.Len(),
		Pending:  s.queue.Pending(),
		Capacity: s.queue.Capacity(),
		Workers:  s.pool.Size(),
		Active:   s.pool.Active(),
		Stats:    s.pool.Stats(),
	})
}

func (s *Service) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.deadLetter.(deadletter.Reader)
	if !ok {
		http.Error(w, "dead-letter sink is not readable", http.StatusNotImplemented)
		return
	}
	entries, err := reader.Entries(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
