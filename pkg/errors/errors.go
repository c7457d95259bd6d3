package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the kinds of failure the orchestrator distinguishes
type ErrorType string

const (
	ErrorTypeUnknownSource          ErrorType = "unknown_source"
	ErrorTypeDownloaderFailure      ErrorType = "downloader_failure"
	ErrorTypeInvalidStateTransition ErrorType = "invalid_state_transition"
	ErrorTypeConfiguration          ErrorType = "configuration"
)

// Error is a typed orchestrator error
type Error struct {
	Type    ErrorType
	Message string
	TaskID  string
	Err     error
}

func (e *Error) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s error (task %s): %s", e.Type, e.TaskID, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UnknownSource reports a task whose source has no registered downloader
func UnknownSource(taskID, source string) *Error {
	return &Error{
		Type:    ErrorTypeUnknownSource,
		Message: fmt.Sprintf("no downloader registered for source %q", source),
		TaskID:  taskID,
	}
}

// DownloaderFailure reports a downloader that returned an unsuccessful result
func DownloaderFailure(taskID, message string) *Error {
	if message == "" {
		message = "downloader reported failure"
	}
	return &Error{
		Type:    ErrorTypeDownloaderFailure,
		Message: message,
		TaskID:  taskID,
	}
}

// InvalidTransition reports an out-of-order status mutation
func InvalidTransition(taskID, from, to string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidStateTransition,
		Message: fmt.Sprintf("illegal transition %s -> %s", from, to),
		TaskID:  taskID,
	}
}

// Configuration reports structural misconfiguration
func Configuration(message string) *Error {
	return &Error{
		Type:    ErrorTypeConfiguration,
		Message: message,
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeDownloaderFailure:
		return true
	case ErrorTypeUnknownSource, ErrorTypeInvalidStateTransition, ErrorTypeConfiguration:
		return false
	default:
		return false
	}
}

// Is reports whether err is a typed Error of the given type
func Is(err error, errorType ErrorType) bool {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Type == errorType
	}
	return false
}
