package domain

import (
	"regexp"
	"strings"
	"time"
)

// AnalysisType selects which work function runs for a task.
type AnalysisType string

// Supported analysis types
const (
	AnalysisDescriptive   AnalysisType = "descriptive"
	AnalysisStatistical   AnalysisType = "statistical"
	AnalysisComprehensive AnalysisType = "comprehensive"
)

// DefaultAnalysisType is used when a request does not name one.
const DefaultAnalysisType = AnalysisComprehensive

// TaskIDLayout is the timestamp suffix format of task IDs.
// It has second resolution, so two submissions for the same dataset within
// one second derive the same ID.
const TaskIDLayout = "20060102_150405"

var datasetNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// AnalysisSpec holds the immutable inputs of a submitted task.
type AnalysisSpec struct {
	DatasetName          string       `json:"dataset_name"`
	Email                string       `json:"email"`
	AnalysisType         AnalysisType `json:"analysis_type"`
	IncludeVisualization bool         `json:"include_visualization"`
}

// Validate checks the spec fields that the task engine depends on.
// Transport-level checks such as email syntax happen in the API layer.
func (s AnalysisSpec) Validate() error {
	if strings.TrimSpace(s.DatasetName) == "" {
		return NewValidationError("dataset_name", "is required", nil)
	}
	if !IsValidDatasetName(s.DatasetName) {
		return NewValidationError("dataset_name", "contains invalid characters", nil)
	}
	if strings.TrimSpace(s.Email) == "" {
		return NewValidationError("email", "is required", nil)
	}
	if !IsValidAnalysisType(s.AnalysisType) {
		return NewValidationError("analysis_type", "is not supported", nil)
	}
	return nil
}

// TaskID derives the deterministic task ID for a submission at the given time.
func (s AnalysisSpec) TaskID(submittedAt time.Time) string {
	return s.DatasetName + "_" + submittedAt.UTC().Format(TaskIDLayout)
}

// IsValidDatasetName reports whether name may appear in a task ID: one or
// more letters, digits, '_', '.' or '-'.
func IsValidDatasetName(name string) bool {
	return datasetNamePattern.MatchString(name)
}

// IsValidAnalysisType reports whether t names a supported analysis.
func IsValidAnalysisType(t AnalysisType) bool {
	switch t {
	case AnalysisDescriptive, AnalysisStatistical, AnalysisComprehensive:
		return true
	default:
		return false
	}
}
