package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound       = errors.New("resource not found")
	ErrBadRequest     = errors.New("bad request")
	ErrConflict       = errors.New("resource conflict")
	ErrInternal       = errors.New("internal server error")
	ErrValidation     = errors.New("validation error")
	ErrInvalidDemand  = errors.New("invalid demand")
	ErrContention     = errors.New("stock contention")
	ErrReconciliation = errors.New("ledger reconciliation failure")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Retryable  bool              `json:"retryable,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Stock allocation error constructors

// InvalidDemand rejects a demand list before any locking or allocation begins:
// negative quantities, unknown items, inactive items.
func InvalidDemand(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrInvalidDemand,
		Code:       "INVALID_DEMAND",
		Message:    "demand validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Contention signals a lock or version conflict under concurrent allocation.
// Callers may retry with backoff.
func Contention(message string) *AppError {
	return &AppError{
		Err:        ErrContention,
		Code:       "CONTENTION",
		Message:    message,
		StatusCode: http.StatusConflict,
		Retryable:  true,
	}
}

// Reconciliation signals that a batch's on-hand quantity diverged from its
// ledger sum. Never auto-recovered; the batch is quarantined for manual audit.
func Reconciliation(batchID, message string) *AppError {
	return &AppError{
		Err:        ErrReconciliation,
		Code:       "RECONCILIATION_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Details:    map[string]string{"batch_id": batchID},
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
