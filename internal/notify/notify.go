// Package notify tells requesters that their analysis finished. Delivery
// itself (mail transport, templates) is outside this service; the Notifier
// port is where a delivery backend plugs in.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/analyze/internal/domain"
	"github.com/phrazzld/analyze/internal/events"
	"github.com/phrazzld/analyze/internal/redact"
	"github.com/phrazzld/analyze/internal/task"
)

// Notification describes the outcome of one task for its requester.
type Notification struct {
	TaskID    string
	Email     string
	Dataset   string
	State     task.State
	ErrorKind domain.Kind
	Message   string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier records notifications in the log instead of sending them.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "log_notifier")}
}

// Notify logs n. The recipient address is redacted.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.InfoContext(ctx, "analysis notification",
		"task_id", note.TaskID,
		"recipient", redact.String(note.Email),
		"state", note.State,
		"error_kind", note.ErrorKind,
		"message", note.Message)
	return nil
}

// Handler turns task.finished events into notifications.
type Handler struct {
	notifier Notifier
	logger   *slog.Logger
}

var _ events.EventHandler = (*Handler)(nil)

// NewHandler creates a Handler delivering through notifier.
func NewHandler(notifier Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		notifier: notifier,
		logger:   logger.With("component", "notify_handler"),
	}
}

// HandleEvent implements events.EventHandler.
func (h *Handler) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	if event.Type != task.EventTaskFinished {
		return nil
	}

	var rec task.Record
	if err := event.UnmarshalPayload(&rec); err != nil {
		h.logger.Error("failed to unmarshal payload", "error", err, "event_id", event.ID)
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if rec.Spec.Email == "" {
		return nil
	}

	note := Notification{
		TaskID:    rec.ID,
		Email:     rec.Spec.Email,
		Dataset:   rec.Spec.DatasetName,
		State:     rec.State,
		ErrorKind: rec.ErrorKind,
		Message:   message(rec),
	}
	if err := h.notifier.Notify(ctx, note); err != nil {
		h.logger.Error("failed to deliver notification",
			"error", redact.Error(err),
			"task_id", rec.ID)
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	return nil
}

func message(rec task.Record) string {
	switch rec.State {
	case task.StateSucceeded:
		return fmt.Sprintf("Analysis task '%s' has completed.", rec.ID)
	case task.StateFailed:
		return fmt.Sprintf("Analysis task '%s' has failed (%s).", rec.ID, rec.ErrorKind)
	default:
		return fmt.Sprintf("Analysis task '%s' was cancelled.", rec.ID)
	}
}
