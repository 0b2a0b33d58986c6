// Package dispatch runs accepted template jobs on a fixed pool of workers.
//
// Submissions only enqueue. Each worker takes one job at a time and drives
// it to a terminal status before taking the next, so one run is always
// handled end to end by a single worker.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/blueprint-labs/blueprint/internal/orchestrator"
	"github.com/blueprint-labs/blueprint/internal/platform/env"
)

const DefaultWorkers = 10

type Config struct {
	Workers int
	// MaxPending bounds queued jobs; zero leaves the queue unbounded.
	MaxPending int
}

func ConfigFromEnv() (Config, error) {
	workers, err := env.Int("BLUEPRINT_TEMPLATE_WORKERS", DefaultWorkers)
	if err != nil {
		return Config{}, err
	}
	pending, err := env.Int("BLUEPRINT_QUEUE_MAX_PENDING", 0)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Workers: workers, MaxPending: pending}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.MaxPending < 0 {
		return fmt.Errorf("max pending must not be negative, got %d", c.MaxPending)
	}
	return nil
}

// Runner executes one run to completion.
type Runner interface {
	Run(ctx context.Context, runID string, tmpl domain.Template) (orchestrator.Result, error)
}

type Dispatcher struct {
	queue   *Queue
	runner  Runner
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

func New(cfg Config, runner Runner, logger *slog.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:   NewQueue(cfg.MaxPending),
		runner:  runner,
		workers: cfg.Workers,
		logger:  logger,
	}, nil
}

// Submit enqueues a run without waiting for it to render.
func (d *Dispatcher) Submit(runID string, tmpl domain.Template) error {
	return d.queue.Submit(Job{RunID: runID, Template: tmpl})
}

func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Run starts the workers and blocks until ctx ends and every in-flight run
// has finished. Runs already dequeued are not cancelled. Once ctx ends the
// queue stops accepting submissions.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info("dispatcher started", "workers", d.workers)
	stop := context.AfterFunc(ctx, d.queue.Close)
	defer stop()
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Go(func() { d.work(ctx, i) })
	}
	wg.Wait()
	d.logger.Info("dispatcher stopped", "pending", d.queue.Len())
	return nil
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	logger := d.logger.With("worker", worker)
	for ctx.Err() == nil {
		job, err := d.queue.Receive(ctx)
		if err != nil {
			return
		}
		logger.Info("run dequeued", "run_id", job.RunID, "queued_ms", time.Since(job.EnqueuedAt).Milliseconds())
		res, err := d.runner.Run(context.WithoutCancel(ctx), job.RunID, job.Template)
		if err != nil {
			logger.Error("run failed", "run_id", job.RunID, "instances", res.Instances, "error", err)
			continue
		}
		logger.Info("run completed", "run_id", job.RunID, "instances", res.Instances, "duration_ms", res.Duration.Milliseconds())
	}
}
