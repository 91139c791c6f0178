package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/analyze/internal/api/shared"
	"github.com/phrazzld/analyze/internal/domain"
)

// RetryAfterSeconds is advertised to clients rejected with backpressure.
const RetryAfterSeconds = 5

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, domain.ErrValidation), errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrTaskFinished):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBackpressure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return shared.InternalErrorMessage
	}

	var verr *domain.ValidationError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return SanitizeValidationError(verrs)
	case errors.As(err, &verr):
		return fmt.Sprintf("Invalid %s: %s", verr.Field, verr.Message)
	case errors.Is(err, domain.ErrValidation):
		return "Validation error"
	case errors.Is(err, domain.ErrNotFound):
		return "Task not found"
	case errors.Is(err, domain.ErrConflict):
		return "A task for this dataset was already submitted in the same second; resubmit with a distinct dataset name"
	case errors.Is(err, domain.ErrTaskFinished):
		return "Task has already finished"
	case errors.Is(err, domain.ErrShutdown):
		return "Service is shutting down; retry later"
	case errors.Is(err, domain.ErrBackpressure):
		return "Service is at capacity; retry later"
	default:
		return shared.InternalErrorMessage
	}
}

// SanitizeValidationError turns the first validator failure into a
// user-friendly message. Field names are the JSON names.
func SanitizeValidationError(verrs validator.ValidationErrors) string {
	if len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "email":
		return "invalid email format"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "dataset_name":
		return "only letters, digits, '_', '.' and '-' are allowed"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the error response for err. A non-empty message
// overrides the derived safe message for 4xx responses; 5xx responses
// always carry the generic message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)

	kind := domain.KindOf(err)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		kind = domain.KindValidation
	}

	if message == "" || status >= http.StatusInternalServerError {
		message = GetSafeErrorMessage(err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	if status == http.StatusInternalServerError {
		kind = domain.KindInternal
	}

	shared.RespondWithErrorAndLog(w, r, status, kind, message, err)
}
