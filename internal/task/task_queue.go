package task

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Common errors returned by the TaskQueue
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// job is one admitted unit of work travelling from the scheduler to a worker.
type job struct {
	id         string
	work       WorkFunc
	enqueuedAt time.Time
}

// TaskQueue is the FIFO admission queue between the scheduler and the
// executor pool. Enqueue never blocks; Dequeue blocks until a job is
// available or the queue is closed and drained. A job leaves the queue
// exactly once, through either Dequeue or Remove.
type TaskQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	jobs     []*job
	size     int
	closed   bool
	logger   *slog.Logger
}

// NewTaskQueue creates a new task queue holding at most size jobs
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	q := &TaskQueue{
		jobs:   make([]*job, 0, max(size, 0)),
		size:   size,
		logger: logger,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a job to the queue for processing
// Returns an error if the queue is full or closed
func (q *TaskQueue) Enqueue(j *job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.jobs) >= q.size {
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.size)
	}

	q.jobs = append(q.jobs, j)
	q.notEmpty.Signal()
	q.logger.Debug("task enqueued",
		"task_id", j.id,
		"queue_len", len(q.jobs),
		"queue_cap", q.size)
	return nil
}

// Dequeue removes and returns the oldest job. It blocks while the queue is
// empty and open, and returns false once the queue is closed and empty.
func (q *TaskQueue) Dequeue() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.jobs) == 0 {
		return nil, false
	}

	j := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return j, true
}

// Remove takes the job for id out of the queue without running it. It
// returns false when no such job is waiting, e.g. because a worker already
// dequeued it.
func (q *TaskQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.IndexFunc(q.jobs, func(j *job) bool { return j.id == id })
	if i < 0 {
		return false
	}
	q.jobs = slices.Delete(q.jobs, i, i+1)
	q.logger.Debug("task removed from queue", "task_id", id, "queue_len", len(q.jobs))
	return true
}

// Close closes the queue. Jobs already queued can still be dequeued.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.notEmpty.Broadcast()
		q.logger.Info("task queue closed")
	}
}

// Len returns the number of jobs waiting for a worker.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
