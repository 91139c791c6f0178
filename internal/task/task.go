package task

import (
	"context"
	"maps"
	"time"

	"github.com/phrazzld/analyze/internal/domain"
)

// State represents the lifecycle position of a task
type State string

// Possible task states
const (
	StatePending   State = "Pending"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	StateCancelled State = "Cancelled"
)

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// IsActive reports whether s counts as active work (Pending or Running).
func (s State) IsActive() bool {
	return s == StatePending || s == StateRunning
}

// IsValid reports whether s is one of the known states.
func (s State) IsValid() bool {
	return s.IsActive() || s.IsTerminal()
}

// Record is the authoritative state of one submitted task.
// Records are owned by the Store; everything outside it works on copies.
type Record struct {
	ID              string              `json:"task_id"`
	Spec            domain.AnalysisSpec `json:"spec"`
	State           State               `json:"state"`
	Progress        int                 `json:"progress"`
	Result          map[string]any      `json:"result,omitempty"`
	ErrorDetail     string              `json:"error_detail,omitempty"`
	ErrorKind       domain.Kind         `json:"error_kind,omitempty"`
	CancelRequested bool                `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	FinishedAt      *time.Time          `json:"finished_at,omitempty"`
}

func (r Record) clone() Record {
	c := r
	c.Result = maps.Clone(r.Result)
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// Mutation changes a record in place. It runs under the record's lock and
// must not block.
type Mutation func(r *Record) error

// Progress lets a running work function report completion percentage.
// Values are clamped to 0-99 until the task succeeds and decreases are ignored.
type Progress interface {
	Report(percent int)
}

// WorkFunc is the opaque analysis body executed by the pool. It should
// return promptly once ctx is cancelled.
type WorkFunc func(ctx context.Context, progress Progress) (map[string]any, error)

// WorkFactory resolves the work function for a submitted analysis.
type WorkFactory interface {
	WorkFor(spec domain.AnalysisSpec) (WorkFunc, error)
}

// WorkFactoryFunc adapts a function to the WorkFactory interface.
type WorkFactoryFunc func(spec domain.AnalysisSpec) (WorkFunc, error)

// WorkFor calls f(spec).
func (f WorkFactoryFunc) WorkFor(spec domain.AnalysisSpec) (WorkFunc, error) {
	return f(spec)
}

// Metrics receives engine measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// Submitted is called once per submission with OutcomeAccepted or the
	// kind of the rejection.
	Submitted(outcome string)
	Started(queueWait time.Duration)
	Finished(state State, runtime time.Duration)
	Evicted()
}

type nopMetrics struct{}

func (nopMetrics) Submitted(string)              {}
func (nopMetrics) Started(time.Duration)         {}
func (nopMetrics) Finished(State, time.Duration) {}
func (nopMetrics) Evicted()                      {}

// OutcomeAccepted is the submission outcome reported for admitted tasks.
const OutcomeAccepted = "accepted"

// Event types emitted by the scheduler
const (
	EventTaskSubmitted = "task.submitted"
	EventTaskFinished  = "task.finished"
)
