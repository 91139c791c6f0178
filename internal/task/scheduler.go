package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/analyze/internal/domain"
	"github.com/phrazzld/analyze/internal/events"
	"github.com/phrazzld/analyze/internal/redact"
	"golang.org/x/sync/semaphore"
)

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	// WorkerCount determines how many tasks run concurrently
	WorkerCount int

	// QueueSize bounds how many admitted tasks may wait for a worker.
	// Submissions beyond WorkerCount+QueueSize in flight are rejected.
	QueueSize int

	// Timeout is the optional wall-clock limit of a running task.
	// Zero disables it.
	Timeout time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultSchedulerConfig returns a SchedulerConfig with reasonable defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WorkerCount: DefaultWorkerPoolConfig().WorkerCount,
		QueueSize:   16,
		Clock:       time.Now,
	}
}

// execution is the runtime handle of a Running task.
type execution struct {
	cancel context.CancelFunc
	timer  *time.Timer
	start  time.Time
}

// Scheduler admits tasks, dispatches them to the executor pool and applies
// their outcomes to the store.
type Scheduler struct {
	store   *Store
	queue   *TaskQueue
	pool    *WorkerPool
	slots   *semaphore.Weighted
	work    WorkFactory
	emitter events.EventEmitter
	metrics Metrics
	config  SchedulerConfig
	logger  *slog.Logger

	// ctx is cancelled on Stop and parents every task context
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	running   map[string]*execution
	started   bool
	stopped   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewScheduler creates a new Scheduler. Call Start before submitting work
// that should run; tasks submitted earlier wait in the admission queue.
func NewScheduler(store *Store, work WorkFactory, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	logger = logger.With("component", "scheduler")

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		store:   store,
		work:    work,
		metrics: nopMetrics{},
		config:  config,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]*execution),
	}

	// Pool defaults are applied before capacity is computed so that the
	// admission bound and the channel buffer always agree.
	pool := newWorkerPool(nil, WorkerPoolConfig{WorkerCount: config.WorkerCount}, s, logger)
	capacity := pool.Size() + config.QueueSize
	s.queue = NewTaskQueue(capacity, logger)
	pool.queue = s.queue
	s.pool = pool
	s.slots = semaphore.NewWeighted(int64(capacity))
	s.config.WorkerCount = pool.Size()

	return s
}

// SetEventEmitter installs the emitter that receives lifecycle events.
// It must be called before Start.
func (s *Scheduler) SetEventEmitter(emitter events.EventEmitter) {
	s.emitter = emitter
}

// SetMetrics installs a metrics sink. It must be called before Start.
func (s *Scheduler) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// Capacity returns the worker count and admission queue size.
func (s *Scheduler) Capacity() (workers, queue int) {
	return s.config.WorkerCount, s.config.QueueSize
}

// QueueDepth returns the number of admitted tasks waiting for a worker.
func (s *Scheduler) QueueDepth() int {
	return s.queue.Len()
}

// Start launches the executor pool.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()

		s.pool.Start()
		s.logger.Info("scheduler started",
			"worker_count", s.config.WorkerCount,
			"queue_size", s.config.QueueSize,
			"timeout", s.config.Timeout)
	})
}

// Stop closes admission, cancels running tasks and waits for workers to
// drain the queue. Tasks still queued are marked Cancelled. It returns
// ctx's error if workers do not exit in time.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		started := s.started
		s.mu.Unlock()

		s.queue.Close()
		s.cancel()

		if !started {
			// Nobody will drain the queue; do it inline.
			for {
				j, ok := s.queue.Dequeue()
				if !ok {
					break
				}
				s.release(j)
				s.abandon(j)
			}
			return
		}

		err = s.pool.Wait(ctx)
		if err != nil {
			s.logger.Error("workers did not stop in time", "error", err)
			return
		}
		s.logger.Info("scheduler stopped")
	})
	return err
}

// Submit derives the task ID, records the task and admits it for execution.
// It never waits for execution: the task is either admitted (Pending or
// Running) or rejected with domain.ErrConflict, domain.ErrBackpressure or a
// validation error.
func (s *Scheduler) Submit(ctx context.Context, spec domain.AnalysisSpec) (Record, error) {
	if err := spec.Validate(); err != nil {
		s.metrics.Submitted(string(domain.KindValidation))
		return Record{}, err
	}

	work, err := s.work.WorkFor(spec)
	if err != nil {
		s.metrics.Submitted(string(domain.KindOf(err)))
		return Record{}, fmt.Errorf("failed to resolve analysis: %w", err)
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		s.metrics.Submitted(string(domain.KindBackpressure))
		return Record{}, fmt.Errorf("%w: %w", domain.ErrBackpressure, domain.ErrShutdown)
	}

	id := spec.TaskID(s.config.Clock())
	rec, err := s.store.Create(id, spec)
	if err != nil {
		s.metrics.Submitted(string(domain.KindOf(err)))
		return Record{}, err
	}

	if !s.slots.TryAcquire(1) {
		s.store.Remove(id)
		s.metrics.Submitted(string(domain.KindBackpressure))
		s.logger.Warn("task rejected, capacity exhausted", "task_id", id)
		return Record{}, fmt.Errorf("%w: %d tasks in flight", domain.ErrBackpressure, s.config.WorkerCount+s.config.QueueSize)
	}

	// Announce before enqueueing so task.submitted always precedes the
	// events a worker emits for the same task. A submission that loses a
	// race with Stop is announced and then rejected with no further event.
	s.emit(ctx, EventTaskSubmitted, rec)

	j := &job{id: id, work: work, enqueuedAt: s.config.Clock()}
	if err := s.queue.Enqueue(j); err != nil {
		s.slots.Release(1)
		s.store.Remove(id)
		s.metrics.Submitted(string(domain.KindBackpressure))
		if errors.Is(err, ErrQueueClosed) {
			return Record{}, fmt.Errorf("%w: %w", domain.ErrBackpressure, domain.ErrShutdown)
		}
		return Record{}, fmt.Errorf("%w: %v", domain.ErrBackpressure, err)
	}

	s.metrics.Submitted(OutcomeAccepted)
	s.logger.Info("task submitted",
		"task_id", id,
		"dataset_name", spec.DatasetName,
		"analysis_type", spec.AnalysisType)

	return rec, nil
}

// Cancel cancels a task. A Pending task becomes Cancelled immediately. A
// Running task is asked to stop through its context and becomes Cancelled
// once its work function returns with an error; cancellation is cooperative.
// Returns domain.ErrTaskFinished for tasks already in a terminal state.
func (s *Scheduler) Cancel(ctx context.Context, id string) (Record, error) {
	rec, err := s.store.Update(id, func(r *Record) error {
		switch r.State {
		case StatePending:
			r.State = StateCancelled
			r.ErrorKind = domain.KindCancelled
		case StateRunning:
			r.CancelRequested = true
		default:
			return fmt.Errorf("%w: %s is %s", domain.ErrTaskFinished, r.ID, r.State)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	switch rec.State {
	case StateCancelled:
		// The slot is freed now rather than when a worker reaches the job.
		// If a worker dequeued it first, its release call frees the slot.
		if s.queue.Remove(id) {
			s.slots.Release(1)
		}
		s.logger.Info("queued task cancelled", "task_id", id)
		s.metrics.Finished(StateCancelled, 0)
		s.emit(ctx, EventTaskFinished, rec)
	case StateRunning:
		s.mu.Lock()
		exec := s.running[id]
		s.mu.Unlock()
		if exec != nil {
			exec.cancel()
		}
		s.logger.Info("cancellation requested for running task", "task_id", id)
	}

	return rec, nil
}

// begin implements lifecycle. It is called by a worker for each dequeued job.
func (s *Scheduler) begin(workerID int, j *job) (context.Context, Progress, bool) {
	logger := s.logger.With("task_id", j.id, "worker_id", workerID)

	if s.ctx.Err() != nil {
		s.abandon(j)
		return nil, nil, false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	exec := &execution{cancel: cancel, start: s.config.Clock()}

	// Register before the transition so that a Cancel observing Running
	// always finds the handle.
	s.mu.Lock()
	s.running[j.id] = exec
	s.mu.Unlock()

	if _, err := s.store.Update(j.id, func(r *Record) error {
		r.State = StateRunning
		return nil
	}); err != nil {
		s.unregister(j.id)
		cancel()
		logger.Debug("skipping task", "reason", err)
		return nil, nil, false
	}

	if s.config.Timeout > 0 {
		timer := time.AfterFunc(s.config.Timeout, func() { s.expire(j.id, exec) })
		s.mu.Lock()
		exec.timer = timer
		s.mu.Unlock()
	}

	s.metrics.Started(exec.start.Sub(j.enqueuedAt))
	logger.Info("processing task")

	return ctx, &progressReporter{id: j.id, store: s.store, logger: logger}, true
}

// complete implements lifecycle. It turns the work function's outcome into
// a terminal transition.
func (s *Scheduler) complete(j *job, result map[string]any, workErr error) {
	exec := s.unregister(j.id)
	var runtime time.Duration
	if exec != nil {
		exec.cancel()
		runtime = s.config.Clock().Sub(exec.start)
	}
	logger := s.logger.With("task_id", j.id)

	rec, err := s.store.Update(j.id, func(r *Record) error {
		if r.State != StateRunning {
			return fmt.Errorf("%w: %s is %s", domain.ErrTaskFinished, r.ID, r.State)
		}
		switch {
		case workErr == nil:
			if result == nil {
				result = map[string]any{}
			}
			r.State = StateSucceeded
			r.Result = result
		case r.CancelRequested:
			r.State = StateCancelled
			r.ErrorKind = domain.KindCancelled
			r.ErrorDetail = "task cancelled by request"
		case s.ctx.Err() != nil:
			r.State = StateCancelled
			r.ErrorKind = domain.KindShutdown
			r.ErrorDetail = "task interrupted by shutdown"
		default:
			r.State = StateFailed
			r.ErrorKind = domain.KindTaskFault
			r.ErrorDetail = redact.Detail(workErr)
		}
		return nil
	})
	if err != nil {
		// The timeout already recorded a terminal state.
		logger.Debug("discarding late task outcome", "reason", err, "work_error", redact.Error(workErr))
		return
	}

	if rec.State == StateSucceeded {
		logger.Info("task completed successfully", "runtime", runtime)
	} else {
		logger.Error("task execution failed",
			"state", rec.State,
			"error_kind", rec.ErrorKind,
			"error", rec.ErrorDetail)
	}
	s.metrics.Finished(rec.State, runtime)
	s.emit(s.ctx, EventTaskFinished, rec)
}

// release implements lifecycle. It frees the admission slot of a job.
func (s *Scheduler) release(*job) {
	s.slots.Release(1)
}

// expire fails a task that outlived the configured timeout and signals its
// work function to stop.
func (s *Scheduler) expire(id string, exec *execution) {
	rec, err := s.store.Update(id, func(r *Record) error {
		if r.State != StateRunning {
			return fmt.Errorf("%w: %s is %s", domain.ErrTaskFinished, r.ID, r.State)
		}
		r.State = StateFailed
		r.ErrorKind = domain.KindTimeout
		r.ErrorDetail = fmt.Sprintf("%v: exceeded %s", domain.ErrTimeout, s.config.Timeout)
		return nil
	})
	if err != nil {
		return
	}
	exec.cancel()

	s.logger.Warn("task timed out", "task_id", id, "timeout", s.config.Timeout)
	s.metrics.Finished(StateFailed, s.config.Timeout)
	s.emit(context.Background(), EventTaskFinished, rec)
}

// abandon cancels a queued job that will never run because the scheduler
// is stopping.
func (s *Scheduler) abandon(j *job) {
	rec, err := s.store.Update(j.id, func(r *Record) error {
		if r.State != StatePending {
			return fmt.Errorf("%w: %s is %s", domain.ErrTaskFinished, r.ID, r.State)
		}
		r.State = StateCancelled
		r.ErrorKind = domain.KindShutdown
		return nil
	})
	if err != nil {
		return
	}
	s.logger.Info("queued task cancelled by shutdown", "task_id", j.id)
	s.metrics.Finished(StateCancelled, 0)
	s.emit(context.Background(), EventTaskFinished, rec)
}

func (s *Scheduler) unregister(id string) *execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec := s.running[id]
	delete(s.running, id)
	if exec != nil && exec.timer != nil {
		exec.timer.Stop()
	}
	return exec
}

// emit publishes a lifecycle event carrying the record. Handler errors are
// logged by the emitter and never affect the task.
func (s *Scheduler) emit(ctx context.Context, eventType string, rec Record) {
	if s.emitter == nil {
		return
	}
	event, err := events.NewTaskEvent(eventType, rec.ID, rec)
	if err != nil {
		s.logger.Error("failed to build task event", "task_id", rec.ID, "error", err)
		return
	}
	_ = s.emitter.EmitEvent(ctx, event)
}

// progressReporter relays progress from a work function into the store.
type progressReporter struct {
	id     string
	store  *Store
	logger *slog.Logger
}

// Report records percent as the task's progress.
func (p *progressReporter) Report(percent int) {
	_, err := p.store.Update(p.id, func(r *Record) error {
		if r.State != StateRunning {
			return fmt.Errorf("%w: %s is %s", domain.ErrTaskFinished, r.ID, r.State)
		}
		r.Progress = percent
		return nil
	})
	if err != nil {
		p.logger.Debug("progress update ignored", "progress", percent, "reason", err)
	}
}
