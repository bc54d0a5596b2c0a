// Package response writes JSON and RFC 7807 problem responses.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mechlib/catalog/internal/apperrors"
)

// ErrorDetail represents a single error detail in RFC 7807 Problem Details.
type ErrorDetail struct {
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
	Value    any    `json:"value,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details error response.
// Step is set for upstream failures and names the workflow step that failed.
// Processed lists the work a batch completed before it stopped.
type ProblemDetails struct {
	Type      string        `json:"type,omitempty"`
	Title     string        `json:"title"`
	Status    int           `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Instance  string        `json:"instance,omitempty"`
	Step      string        `json:"step,omitempty"`
	Errors    []ErrorDetail `json:"errors,omitempty"`
	Processed any           `json:"processed,omitempty"`
}

// RespondProblem writes problem as application/problem+json.
func RespondProblem(w http.ResponseWriter, problem ProblemDetails) {
	if problem.Type == "" {
		problem.Type = "about:blank"
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// RespondError writes an RFC 7807 Problem Details error response.
func RespondError(w http.ResponseWriter, statusCode int, title, detail string) {
	RespondProblem(w, ProblemDetails{Title: title, Status: statusCode, Detail: detail})
}

// RespondBadRequest writes a 400 Bad Request error response.
func RespondBadRequest(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusBadRequest, "Bad Request", detail)
}

// RespondUnauthorized writes a 401 Unauthorized error response.
func RespondUnauthorized(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// RespondNotFound writes a 404 Not Found error response.
func RespondNotFound(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusNotFound, "Not Found", detail)
}

// RespondConflict writes a 409 Conflict error response.
func RespondConflict(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusConflict, "Conflict", detail)
}

// RespondInternalServerError writes a 500 Internal Server Error response.
func RespondInternalServerError(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// RespondServiceError maps a service error to its problem response:
// NotFound 404, Validation 400, Conflict 409, ExternalService 502 naming the step, anything else 500.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	RespondProblem(w, ServiceProblem(r, err))
}

// ServiceProblem builds the problem RespondServiceError writes, for handlers that attach extra members.
func ServiceProblem(r *http.Request, err error) ProblemDetails {
	var ext *apperrors.ExternalServiceError

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return ProblemDetails{Title: "Not Found", Status: http.StatusNotFound, Detail: err.Error()}
	case errors.Is(err, apperrors.ErrValidation):
		return ProblemDetails{Title: "Bad Request", Status: http.StatusBadRequest, Detail: err.Error()}
	case errors.Is(err, apperrors.ErrConflict):
		return ProblemDetails{Title: "Conflict", Status: http.StatusConflict, Detail: err.Error()}
	case errors.As(err, &ext):
		slog.ErrorContext(r.Context(), "upstream failure", "step", ext.Step, "error", err)

		return ProblemDetails{
			Title:  "Bad Gateway",
			Status: http.StatusBadGateway,
			Detail: "external service failed at step " + ext.Step,
			Step:   ext.Step,
		}
	default:
		slog.ErrorContext(r.Context(), "unexpected error", "error", err)

		return ProblemDetails{
			Title:  "Internal Server Error",
			Status: http.StatusInternalServerError,
			Detail: "An unexpected error occurred",
		}
	}
}

// RespondJSON writes a JSON response directly without wrapping.
func RespondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
