package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/phrazzld/analyze/internal/domain"
)

// lifecycle is the scheduler side of the executor pool. The pool never
// touches the store; every transition goes through these callbacks.
type lifecycle interface {
	// begin moves the job's record to Running. It returns false when the
	// job must be skipped, for example because it was cancelled while queued.
	begin(workerID int, j *job) (context.Context, Progress, bool)

	// complete reports the work function's outcome.
	complete(j *job, result map[string]any, err error)

	// release is called once per received job after begin/complete.
	release(j *job)
}

// WorkerPool manages a fixed number of worker goroutines that run jobs
// from the admission queue.
type WorkerPool struct {
	// queue provides the admitted jobs in FIFO order
	queue *TaskQueue

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// done is closed once every worker has exited
	done chan struct{}

	lifecycle lifecycle
	logger    *slog.Logger
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 4
	WorkerCount int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 4,
	}
}

// newWorkerPool creates a new worker pool reading from queue
func newWorkerPool(queue *TaskQueue, config WorkerPoolConfig, lc lifecycle, logger *slog.Logger) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = DefaultWorkerPoolConfig().WorkerCount
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", workerCount)
	}

	return &WorkerPool{
		queue:       queue,
		workerCount: workerCount,
		done:        make(chan struct{}),
		lifecycle:   lc,
		logger:      logger.With("component", "worker_pool"),
	}
}

// Size returns the number of workers in the pool.
func (p *WorkerPool) Size() int {
	return p.workerCount
}

// Start launches the workers. They exit once the queue is closed and drained.
func (p *WorkerPool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
}

// Wait blocks until every worker has exited or ctx is done.
func (p *WorkerPool) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

// worker processes jobs from the queue
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		j, ok := p.queue.Dequeue()
		if !ok {
			break
		}
		p.process(id, j)
	}

	p.logger.Debug("task queue closed, stopping worker", "worker_id", id)
}

// process handles execution of a single job
func (p *WorkerPool) process(workerID int, j *job) {
	defer p.lifecycle.release(j)

	ctx, progress, ok := p.lifecycle.begin(workerID, j)
	if !ok {
		return
	}

	result, err := p.run(ctx, workerID, j, progress)
	p.lifecycle.complete(j, result, err)
}

// run executes the work function. A panic is contained here and turned
// into a task fault so the worker survives.
func (p *WorkerPool) run(ctx context.Context, workerID int, j *job, progress Progress) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				"task_id", j.id,
				"worker_id", workerID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			result = nil
			err = fmt.Errorf("%w: panic: %v", domain.ErrTaskFault, r)
		}
	}()

	return j.work(ctx, progress)
}
