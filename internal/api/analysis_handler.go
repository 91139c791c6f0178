package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/analyze/internal/api/shared"
	"github.com/phrazzld/analyze/internal/domain"
	"github.com/phrazzld/analyze/internal/platform/logger"
	"github.com/phrazzld/analyze/internal/task"
)

// TaskSubmitter admits and cancels analysis tasks.
type TaskSubmitter interface {
	Submit(ctx context.Context, spec domain.AnalysisSpec) (task.Record, error)
	Cancel(ctx context.Context, id string) (task.Record, error)
}

// StatusQuerier answers read-only task queries.
type StatusQuerier interface {
	GetStatus(ctx context.Context, id string) (task.Status, error)
	List(ctx context.Context, state task.State) ([]task.Status, error)
	Statistics(ctx context.Context) task.Statistics
}

// AnalysisHandler handles task submission and status HTTP requests
type AnalysisHandler struct {
	tasks  TaskSubmitter
	status StatusQuerier
	logger *slog.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler
func NewAnalysisHandler(tasks TaskSubmitter, status StatusQuerier, logger *slog.Logger) *AnalysisHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisHandler{
		tasks:  tasks,
		status: status,
		logger: logger.With("component", "analysis_handler"),
	}
}

// RegisterRoutes mounts the handler's endpoints on r.
func (h *AnalysisHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Health)
	r.Get("/statistics", h.Statistics)
	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", h.Analyze)
		r.Get("/status/{task_id}", h.GetStatus)
		r.Get("/tasks", h.ListTasks)
		r.Delete("/tasks/{task_id}", h.CancelTask)
	})
}

// Health handles GET / requests
func (h *AnalysisHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: ServiceName,
		Version: ServiceVersion,
	})
}

// Analyze handles POST /api/analyze requests
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		HandleAPIError(w, r, domain.NewValidationError("body", "is not valid JSON", nil), "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	rec, err := h.tasks.Submit(r.Context(), req.Spec())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContext(r.Context()).Info("analysis task accepted",
		slog.String("task_id", rec.ID),
		slog.String("analysis_type", string(rec.Spec.AnalysisType)))

	// 202 Accepted since processing happens asynchronously
	shared.RespondWithJSON(w, r, http.StatusAccepted, newAnalyzeResponse(rec))
}

// GetStatus handles GET /api/status/{task_id} requests
func (h *AnalysisHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := getPathTaskID(r, "task_id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	status, err := h.status.GetStatus(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newStatusResponse(status))
}

// ListTasks handles GET /api/tasks requests, optionally filtered by ?state=
func (h *AnalysisHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.status.List(r.Context(), task.State(r.URL.Query().Get("state")))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := TaskListResponse{
		Tasks: make([]StatusResponse, 0, len(statuses)),
		Count: len(statuses),
	}
	for _, s := range statuses {
		resp.Tasks = append(resp.Tasks, newStatusResponse(s))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// CancelTask handles DELETE /api/tasks/{task_id} requests.
// Queued tasks are cancelled at once (200); running tasks are asked to stop
// and the response is 202 with cancel_requested set.
func (h *AnalysisHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathTaskID(r, "task_id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	rec, err := h.tasks.Cancel(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	status := http.StatusOK
	if !rec.State.IsTerminal() {
		status = http.StatusAccepted
	}
	shared.RespondWithJSON(w, r, status, newStatusResponse(task.NewStatus(rec)))
}

// Statistics handles GET /statistics requests
func (h *AnalysisHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, newStatisticsResponse(h.status.Statistics(r.Context())))
}
