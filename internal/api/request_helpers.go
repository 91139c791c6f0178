package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/analyze/internal/domain"
)

// maxTaskIDLength bounds path task IDs: a maximal dataset name plus the
// timestamp suffix.
const maxTaskIDLength = 128 + 1 + len(domain.TaskIDLayout)

// getPathTaskID extracts a task ID from the URL path parameters.
//
// Returns:
//   - (id, nil): The task ID if present and plausible
//   - ("", error): A validation error if the parameter is missing or too long
func getPathTaskID(r *http.Request, paramName string) (string, error) {
	id := chi.URLParam(r, paramName)
	if id == "" {
		return "", domain.NewValidationError(paramName, "is required", nil)
	}
	if len(id) > maxTaskIDLength {
		return "", domain.NewValidationError(paramName, "is too long", nil)
	}
	return id, nil
}
