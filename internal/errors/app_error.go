package errors

import (
	"errors"
	"fmt"
)

// AppError represents a domain-specific error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a fatal, batch-aborting validation error,
// e.g. a missing required CSV column or a missing input file.
func NewValidationError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func NewNotFoundError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func NewInternalError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// IsValidation reports whether err is (or wraps) a validation AppError.
// Row-level ingestion failures never surface as errors; anything that
// reaches here aborted the whole batch.
func IsValidation(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == CodeInvalidCSV || appErr.Code == CodeInvalidInput
}

// Error codes shared across layers.
const (
	CodeInvalidCSV   = "INVALID_CSV"
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL_ERROR"
)
