package api

import (
	"fmt"
	"time"

	"github.com/phrazzld/analyze/internal/domain"
	"github.com/phrazzld/analyze/internal/task"
)

// Service identity reported by the health endpoint
const (
	ServiceName    = "Analyze - Data Analysis Service"
	ServiceVersion = "1.0.0"
)

// AnalyzeRequest defines the payload for the task submission endpoint.
type AnalyzeRequest struct {
	Email       string `json:"email"        validate:"required,email"`
	DatasetName string `json:"dataset_name" validate:"required,max=128,dataset_name"`

	// AnalysisType defaults to comprehensive when empty
	AnalysisType string `json:"analysis_type" validate:"omitempty,oneof=descriptive statistical comprehensive"`

	// IncludeVisualization defaults to true when absent
	IncludeVisualization *bool `json:"include_visualization"`
}

// Spec converts the request into the engine's input, applying defaults.
func (req AnalyzeRequest) Spec() domain.AnalysisSpec {
	spec := domain.AnalysisSpec{
		DatasetName:          req.DatasetName,
		Email:                req.Email,
		AnalysisType:         domain.AnalysisType(req.AnalysisType),
		IncludeVisualization: true,
	}
	if spec.AnalysisType == "" {
		spec.AnalysisType = domain.DefaultAnalysisType
	}
	if req.IncludeVisualization != nil {
		spec.IncludeVisualization = *req.IncludeVisualization
	}
	return spec
}

// AnalyzeResponse defines the successful response of the submission endpoint.
type AnalyzeResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Email   string `json:"email"`
}

func newAnalyzeResponse(rec task.Record) AnalyzeResponse {
	return AnalyzeResponse{
		TaskID:  rec.ID,
		Status:  "accepted",
		Message: fmt.Sprintf("Analysis task '%s' has been accepted and is being processed.", rec.ID),
		Email:   rec.Spec.Email,
	}
}

// StatusResponse defines the task status payload.
type StatusResponse struct {
	TaskID          string         `json:"task_id"`
	Status          task.State     `json:"status"`
	Progress        int            `json:"progress"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       domain.Kind    `json:"error_kind,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

func newStatusResponse(s task.Status) StatusResponse {
	return StatusResponse{
		TaskID:          s.TaskID,
		Status:          s.State,
		Progress:        s.Progress,
		Result:          s.Result,
		Error:           s.ErrorDetail,
		ErrorKind:       s.ErrorKind,
		CancelRequested: s.CancelRequested,
		CreatedAt:       s.CreatedAt,
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
	}
}

// TaskListResponse wraps a list of task statuses.
type TaskListResponse struct {
	Tasks []StatusResponse `json:"tasks"`
	Count int              `json:"count"`
}

// StatisticsResponse defines the aggregate counters payload.
// TotalAnalyses always equals ActiveTasks + CompletedTasks.
type StatisticsResponse struct {
	TotalAnalyses  int     `json:"total_analyses"`
	ActiveTasks    int     `json:"active_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	Pending        int     `json:"pending"`
	Running        int     `json:"running"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	Cancelled      int     `json:"cancelled"`
	UptimeHours    float64 `json:"uptime_hours"`
}

func newStatisticsResponse(s task.Statistics) StatisticsResponse {
	return StatisticsResponse{
		TotalAnalyses:  s.Total,
		ActiveTasks:    s.Active,
		CompletedTasks: s.Completed,
		Pending:        s.Pending,
		Running:        s.Running,
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		Cancelled:      s.Cancelled,
		UptimeHours:    s.UptimeHours,
	}
}

// HealthResponse defines the health check payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}
