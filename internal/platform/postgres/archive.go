package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/analyze/internal/domain"
	"github.com/phrazzld/analyze/internal/events"
	"github.com/phrazzld/analyze/internal/task"
)

// DBTX is an interface that abstracts the database access layer.
// It is implemented by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DefaultArchiveTimeout bounds a single archive write made from an event.
const DefaultArchiveTimeout = 5 * time.Second

// ArchiveStore persists finished task records so that they outlive
// in-memory retention and process restarts.
type ArchiveStore struct {
	db      DBTX
	timeout time.Duration
	logger  *slog.Logger
}

var (
	_ task.Archive        = (*ArchiveStore)(nil)
	_ events.EventHandler = (*ArchiveStore)(nil)
)

// NewArchiveStore creates an ArchiveStore over db.
// If logger is nil, a default logger will be used.
func NewArchiveStore(db DBTX, logger *slog.Logger) *ArchiveStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveStore{
		db:      db,
		timeout: DefaultArchiveTimeout,
		logger:  logger.With(slog.String("component", "task_archive")),
	}
}

// Save upserts a terminal record. Non-terminal records are rejected.
func (s *ArchiveStore) Save(ctx context.Context, rec task.Record) error {
	if !rec.State.IsTerminal() {
		return fmt.Errorf("%w: cannot archive task %s in state %s",
			domain.ErrInvalidTransition, rec.ID, rec.State)
	}
	if rec.FinishedAt == nil {
		return fmt.Errorf("%w: task %s has no finish time", domain.ErrInvalidTransition, rec.ID)
	}

	var result []byte
	if rec.Result != nil {
		var err error
		result, err = json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("failed to encode result of task %s: %w", rec.ID, err)
		}
	}

	query := `
		INSERT INTO task_archive (
			task_id, dataset_name, email, analysis_type, include_visualization,
			state, progress, result, error_detail, error_kind, cancel_requested,
			created_at, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (task_id) DO UPDATE SET
			state = EXCLUDED.state,
			progress = EXCLUDED.progress,
			result = EXCLUDED.result,
			error_detail = EXCLUDED.error_detail,
			error_kind = EXCLUDED.error_kind,
			cancel_requested = EXCLUDED.cancel_requested,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			archived_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Spec.DatasetName,
		rec.Spec.Email,
		rec.Spec.AnalysisType,
		rec.Spec.IncludeVisualization,
		string(rec.State),
		rec.Progress,
		nullJSON(result),
		rec.ErrorDetail,
		string(rec.ErrorKind),
		rec.CancelRequested,
		rec.CreatedAt,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to archive task",
			slog.String("task_id", rec.ID),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	s.logger.DebugContext(ctx, "task archived",
		slog.String("task_id", rec.ID),
		slog.String("state", string(rec.State)))
	return nil
}

// Lookup implements task.Archive.
func (s *ArchiveStore) Lookup(ctx context.Context, id string) (task.Record, error) {
	query := `
		SELECT task_id, dataset_name, email, analysis_type, include_visualization,
			state, progress, result, error_detail, error_kind, cancel_requested,
			created_at, started_at, finished_at
		FROM task_archive
		WHERE task_id = $1
	`

	var (
		rec        task.Record
		state      string
		errorKind  string
		result     []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.Spec.DatasetName,
		&rec.Spec.Email,
		&rec.Spec.AnalysisType,
		&rec.Spec.IncludeVisualization,
		&state,
		&rec.Progress,
		&result,
		&rec.ErrorDetail,
		&errorKind,
		&rec.CancelRequested,
		&rec.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.ErrorContext(ctx, "failed to look up archived task",
				slog.String("task_id", id),
				slog.String("error", err.Error()))
		}
		return task.Record{}, MapError(err)
	}

	rec.State = task.State(state)
	rec.ErrorKind = domain.Kind(errorKind)
	if len(result) > 0 {
		if err := json.Unmarshal(result, &rec.Result); err != nil {
			return task.Record{}, fmt.Errorf("failed to decode result of task %s: %w", id, err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		rec.FinishedAt = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// HandleEvent archives the record carried by task.finished events.
// The write gets its own deadline so a slow database cannot hold a worker
// indefinitely.
func (s *ArchiveStore) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	if event.Type != task.EventTaskFinished {
		return nil
	}

	var rec task.Record
	if err := event.UnmarshalPayload(&rec); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return s.Save(ctx, rec)
}

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
