package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Static errors for dispatching.
var (
	// ErrQueueFull is returned when the dispatch queue has no free slot.
	ErrQueueFull = errors.New("pipeline: job queue is full")
	// ErrAlreadyQueued is returned when a job ID is queued or running.
	ErrAlreadyQueued = errors.New("pipeline: job is already queued")
)

// Runner executes the pipeline for one job.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Dispatcher feeds queued job IDs to a bounded number of concurrent runs.
// Each run occupies one slot for the job's whole lifetime.
type Dispatcher struct {
	runner Runner
	sem    *semaphore.Weighted
	queue  chan string
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher running at most maxConcurrent jobs and
// holding at most queueSize waiting IDs.
func NewDispatcher(runner Runner, maxConcurrent, queueSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		runner: runner,
		sem:    semaphore.NewWeighted(int64(max(maxConcurrent, 1))),
		queue:  make(chan string, max(queueSize, 1)),
		logger: logger,
		active: make(map[string]struct{}),
	}
}

// Submit queues jobID without blocking.
func (d *Dispatcher) Submit(jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[jobID]; ok {
		return ErrAlreadyQueued
	}
	select {
	case d.queue <- jobID:
		d.active[jobID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs queued jobs until ctx is cancelled, then waits for the running
// ones to return. Cancelling ctx also cancels the running pipelines, which
// record their jobs as interrupted.
func (d *Dispatcher) Start(ctx context.Context) error {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case jobID := <-d.queue:
			if err := d.sem.Acquire(ctx, 1); err != nil {
				d.done(jobID)
				return nil
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer d.sem.Release(1)
				defer d.done(jobID)
				if err := d.runner.Run(ctx, jobID); err != nil {
					d.logger.Error("job run failed",
						slog.String("job_id", jobID),
						slog.String("error", err.Error()),
					)
				}
			}()
		}
	}
}

func (d *Dispatcher) done(jobID string) {
	d.mu.Lock()
	delete(d.active, jobID)
	d.mu.Unlock()
}
