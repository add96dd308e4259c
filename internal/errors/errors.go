// Package errors provides structured error handling for the voice pipeline.
// Every error crossing a package boundary carries a stable string code so the
// relay API and telemetry can classify failures without string matching.
package errors

import "fmt"

// Code identifies an error category.
type Code string

const (
	// CodeDeviceAccess covers microphone permission and hardware failures.
	CodeDeviceAccess Code = "DEVICE_ACCESS_DENIED"

	// CodeNotInitialized is returned when capture is started before Initialize.
	CodeNotInitialized Code = "NOT_INITIALIZED"

	// CodeSessionNotStarted is returned when a session operation is invoked
	// before Start.
	CodeSessionNotStarted Code = "SESSION_NOT_STARTED"

	// CodeConnectionFailed means the transport failed to open.
	CodeConnectionFailed Code = "CONNECTION_FAILED"

	// CodeNotConnected means a send was attempted while disconnected.
	CodeNotConnected Code = "NOT_CONNECTED"

	// CodeProtocol covers well-formed but semantically invalid inbound events.
	CodeProtocol Code = "PROTOCOL_ERROR"

	// CodeConfigInvalid means configuration validation failed.
	CodeConfigInvalid Code = "CONFIG_INVALID"

	// CodeSessionStartFailed tags session start failures surfaced as events.
	CodeSessionStartFailed Code = "SESSION_START_FAILED"

	// CodeRemoteAPI tags errors reported by the remote voice-AI backend.
	CodeRemoteAPI Code = "AZURE_API_ERROR"
)

// AppError is the base error type with a structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates an AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates an AppError with a formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds a metadata entry to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code of err if it is an AppError, walking the cause
// chain, or an empty Code otherwise.
func CodeOf(err error) Code {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}

// IsCode checks whether err carries a specific error code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
