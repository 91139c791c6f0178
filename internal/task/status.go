package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/analyze/internal/domain"
)

// Archive is a read-only source of finished records that the store no
// longer retains.
type Archive interface {
	// Lookup returns the archived record or an error wrapping
	// domain.ErrNotFound.
	Lookup(ctx context.Context, id string) (Record, error)
}

// Status is the externally visible projection of a record.
type Status struct {
	TaskID          string         `json:"task_id"`
	State           State          `json:"state"`
	Progress        int            `json:"progress"`
	Result          map[string]any `json:"result,omitempty"`
	ErrorDetail     string         `json:"error_detail,omitempty"`
	ErrorKind       domain.Kind    `json:"error_kind,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// NewStatus projects a record into a Status.
func NewStatus(r Record) Status {
	return Status{
		TaskID:          r.ID,
		State:           r.State,
		Progress:        r.Progress,
		Result:          r.Result,
		ErrorDetail:     r.ErrorDetail,
		ErrorKind:       r.ErrorKind,
		CancelRequested: r.CancelRequested,
		CreatedAt:       r.CreatedAt,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
	}
}

// Statistics aggregates task counts over one snapshot of the store.
type Statistics struct {
	Counts
	Total       int     `json:"total"`
	Active      int     `json:"active"`
	Completed   int     `json:"completed"`
	UptimeHours float64 `json:"uptime_hours"`
}

// StatusService answers status queries. It never mutates the store.
type StatusService struct {
	store     *Store
	archive   Archive
	startedAt time.Time
	clock     func() time.Time
	logger    *slog.Logger
}

// NewStatusService creates a StatusService over store. archive may be nil.
func NewStatusService(store *Store, archive Archive, logger *slog.Logger) *StatusService {
	return &StatusService{
		store:     store,
		archive:   archive,
		startedAt: time.Now(),
		clock:     time.Now,
		logger:    logger.With("component", "status_service"),
	}
}

// GetStatus returns the latest committed state of a task. Tasks evicted
// from the store are looked up in the archive when one is configured.
func (s *StatusService) GetStatus(ctx context.Context, id string) (Status, error) {
	rec, err := s.store.Get(id)
	if err == nil {
		return NewStatus(rec), nil
	}
	if !errors.Is(err, domain.ErrNotFound) || s.archive == nil {
		return Status{}, err
	}

	rec, err = s.archive.Lookup(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("archive lookup failed", "task_id", id, "error", err)
			return Status{}, fmt.Errorf("failed to look up archived task: %w", err)
		}
		return Status{}, err
	}
	return NewStatus(rec), nil
}

// List returns the statuses of held tasks, optionally filtered by state.
func (s *StatusService) List(ctx context.Context, state State) ([]Status, error) {
	if state != "" && !state.IsValid() {
		return nil, domain.NewValidationError("state", "is not a known task state", nil)
	}
	records := s.store.List(state)
	statuses := make([]Status, 0, len(records))
	for _, r := range records {
		statuses = append(statuses, NewStatus(r))
	}
	return statuses, nil
}

// Statistics returns task counts. Total always equals Active + Completed.
func (s *StatusService) Statistics(ctx context.Context) Statistics {
	c := s.store.Snapshot()
	return Statistics{
		Counts:      c,
		Total:       c.Total(),
		Active:      c.Active(),
		Completed:   c.Completed(),
		UptimeHours: s.clock().Sub(s.startedAt).Hours(),
	}
}
