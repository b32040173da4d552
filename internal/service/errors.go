package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/scribe/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check for them with errors.Is(); the API layer maps each one to a
// status code.
var (
	// ErrJobNotFound indicates the job does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrJobNotFound = errors.New("job not found")

	// ErrForbidden indicates the caller neither owns the job nor is an operator.
	// API layer should map this to HTTP 403 Forbidden.
	ErrForbidden = errors.New("job belongs to another user")

	// ErrNotReady indicates results were requested before the job completed.
	// API layer should map this to HTTP 409 Conflict.
	ErrNotReady = errors.New("job not ready")

	// ErrArtifactMissing indicates a completed job refers to an artifact that
	// is no longer in the object store.
	// API layer should map this to HTTP 404 Not Found.
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrNotCancellable indicates the job already reached a terminal state.
	// API layer should map this to HTTP 409 Conflict.
	ErrNotCancellable = errors.New("job can no longer be cancelled")

	// ErrInvalidInput indicates the submission is malformed.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidInput = errors.New("invalid input")
)

// JobServiceError wraps unexpected errors from the job service with context.
type JobServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "result")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for JobServiceError.
func (e *JobServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("job service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *JobServiceError) Unwrap() error {
	return e.Err
}

// NewJobServiceError creates a new JobServiceError.
// It returns known sentinel errors directly without wrapping.
func NewJobServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrJobNotFound), errors.Is(err, store.ErrJobNotFound):
		return ErrJobNotFound
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotReady),
		errors.Is(err, ErrArtifactMissing),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrInvalidInput):
		return err
	}

	return &JobServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
