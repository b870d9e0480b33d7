package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies application errors for handlers and the health layer.
type ErrorCode string

const (
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeNoCredentials     ErrorCode = "NO_CREDENTIALS"
	CodeUpstreamStatus    ErrorCode = "UPSTREAM_STATUS"
	CodeUpstreamBody      ErrorCode = "UPSTREAM_BODY"
	CodeUpstreamTransport ErrorCode = "UPSTREAM_TRANSPORT"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// BodyPrefixLimit caps how much of an upstream error body is retained.
const BodyPrefixLimit = 512

// AppError is the application error type. Upstream status errors additionally
// carry the HTTP status code and a capped prefix of the response body so the
// failure classifier can inspect them without re-reading the wire.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	BodyPrefix string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError creates an invalid-input error.
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewNoCredentialsError signals an empty or fully unavailable credential pool.
func NewNoCredentialsError(message string) *AppError {
	return &AppError{
		Code:    CodeNoCredentials,
		Message: message,
	}
}

// NewUpstreamStatusError wraps a non-2xx upstream response. body is truncated
// to BodyPrefixLimit bytes.
func NewUpstreamStatusError(operation string, statusCode int, body string) *AppError {
	if len(body) > BodyPrefixLimit {
		body = body[:BodyPrefixLimit]
	}
	return &AppError{
		Code:       CodeUpstreamStatus,
		Message:    fmt.Sprintf("%s returned HTTP %d", operation, statusCode),
		StatusCode: statusCode,
		BodyPrefix: body,
	}
}

// NewUpstreamBodyError wraps a failure while reading an upstream response body.
func NewUpstreamBodyError(operation string, cause error) *AppError {
	return &AppError{
		Code:    CodeUpstreamBody,
		Message: fmt.Sprintf("%s: reading response body failed", operation),
		Err:     cause,
	}
}

// NewUpstreamStreamError wraps an error frame received mid-stream. The frame
// payload is retained as the body prefix so the failure classifier can see
// quota and rate-limit markers.
func NewUpstreamStreamError(operation string, payload string) *AppError {
	if len(payload) > BodyPrefixLimit {
		payload = payload[:BodyPrefixLimit]
	}
	return &AppError{
		Code:       CodeUpstreamBody,
		Message:    fmt.Sprintf("%s: upstream signaled an error mid-stream", operation),
		BodyPrefix: payload,
	}
}

// NewUpstreamTransportError wraps a network-level failure before any response
// arrived.
func NewUpstreamTransportError(operation string, cause error) *AppError {
	return &AppError{
		Code:    CodeUpstreamTransport,
		Message: fmt.Sprintf("%s: request failed", operation),
		Err:     cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// NewInternalErrorWithCause creates an internal error wrapping its cause.
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// AsAppError extracts an *AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsInvalidInput reports whether err is an invalid-input error.
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput
	}
	return false
}

// IsNoCredentials reports whether err signals an unusable credential pool.
func IsNoCredentials(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNoCredentials
	}
	return false
}
