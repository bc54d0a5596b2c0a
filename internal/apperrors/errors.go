// Package apperrors provides sentinel and custom error types for the catalog.
package apperrors

// ErrNotFound represents a "not found" error.
// Use when no image record matches the requested s3_uri.
var ErrNotFound = &NotFoundError{}

// NotFoundError is a sentinel error for resources that are not found.
type NotFoundError struct {
	Resource string
	Message  string
}

// NewNotFoundError creates a new NotFoundError with a custom message.
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Message:  message,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Resource != "" {
		return e.Resource + " not found"
	}

	return "resource not found"
}

// Is implements the error interface for error comparison.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)

	return ok
}

// ErrValidation represents a validation error.
// Use when client input fails validation, before any side effect happens.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// ErrConflict is the sentinel for conflict errors (e.g. the record changed underneath an update).
var ErrConflict = &ConflictError{}

// ConflictError is a sentinel error for resource conflicts.
type ConflictError struct {
	Message string
}

// NewConflictError creates a ConflictError with a custom message.
func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "conflict"
}

// Is implements the error interface for error comparison.
func (e *ConflictError) Is(target error) bool {
	_, ok := target.(*ConflictError)

	return ok
}

// ErrExternalService is the sentinel for failures of a collaborator
// (object store, tag writer, embedding provider, index).
var ErrExternalService = &ExternalServiceError{}

// Workflow steps reported by ExternalServiceError.
const (
	StepLookup      = "lookup"
	StepDownload    = "download"
	StepWriteTags   = "write_tags"
	StepReadTags    = "read_tags"
	StepUpload      = "upload"
	StepEmbed       = "embed"
	StepIndex       = "index"
	StepDeleteBlob  = "delete_blob"
	StepDeleteIndex = "delete_index"
	StepPresign     = "presign"
	StepLock        = "lock"
	StepMarker      = "marker"
	StepSearch      = "search"
)

// ExternalServiceError names the workflow step whose collaborator failed.
type ExternalServiceError struct {
	Step string
	Err  error
}

// NewExternalServiceError wraps err as a failure of the given step.
func NewExternalServiceError(step string, err error) *ExternalServiceError {
	return &ExternalServiceError{Step: step, Err: err}
}

// Error implements the error interface.
func (e *ExternalServiceError) Error() string {
	msg := "external service failure"
	if e.Step != "" {
		msg += " at step " + e.Step
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying collaborator error.
func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Is implements the error interface for error comparison.
func (e *ExternalServiceError) Is(target error) bool {
	_, ok := target.(*ExternalServiceError)

	return ok
}
