// Package errors provides the structured error type shared across docworker.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeValidation indicates a malformed or ineligible job payload. Fatal;
	// the job is marked failed and never retried automatically.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeBuild indicates a build command finished with a non-success status.
	ErrCodeBuild ErrorCode = "build"
	// ErrCodePublish indicates the deploy tooling reported an internal error,
	// possibly despite a zero exit code.
	ErrCodePublish ErrorCode = "publish"
	// ErrCodeStore indicates a job store timeout or conditional-update failure.
	ErrCodeStore ErrorCode = "store"
	// ErrCodeStopped indicates cooperative shutdown interrupted the pipeline.
	// Not a failure: the job has already been reset to the queue.
	ErrCodeStopped ErrorCode = "stopped"
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError represents a structured application error with a code, message, and
// optional cause. It supports error wrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Build creates a new Build error.
func Build(message string) *AppError {
	return &AppError{Code: ErrCodeBuild, Message: message}
}

// Buildf creates a new Build error with formatted message.
func Buildf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeBuild, Message: fmt.Sprintf(format, args...)}
}

// Publish creates a new Publish error.
func Publish(message string) *AppError {
	return &AppError{Code: ErrCodePublish, Message: message}
}

// Publishf creates a new Publish error with formatted message.
func Publishf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodePublish, Message: fmt.Sprintf(format, args...)}
}

// Store creates a new Store error.
func Store(message string) *AppError {
	return &AppError{Code: ErrCodeStore, Message: message}
}

// Stopped creates a new Stopped error.
func Stopped(message string) *AppError {
	return &AppError{Code: ErrCodeStopped, Message: message}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsBuild checks if an error is a Build error.
func IsBuild(err error) bool {
	return isCode(err, ErrCodeBuild)
}

// IsPublish checks if an error is a Publish error.
func IsPublish(err error) bool {
	return isCode(err, ErrCodePublish)
}

// IsStore checks if an error is a Store error.
func IsStore(err error) bool {
	return isCode(err, ErrCodeStore)
}

// IsStopped checks if an error is a Stopped error.
func IsStopped(err error) bool {
	return isCode(err, ErrCodeStopped)
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
