package errors

import (
	"errors"
	"fmt"
)

// Domain errors - these represent rule violations in the sync layer
var (
	// Channel
	ErrNotConnected     = errors.New("push channel not connected")
	ErrChannelClosed    = errors.New("push channel closed")
	ErrSendBufferFull   = errors.New("push channel send buffer full")
	ErrIdentityRequired = errors.New("user id and token are required")
	ErrRateLimited      = errors.New("outbound request rate limit exceeded")

	// Dashboards
	ErrInvalidDashboardType = errors.New("invalid dashboard type")
	ErrScopeRequired        = errors.New("dashboard scope is incomplete")
	ErrHandleClosed         = errors.New("handle already closed")
	ErrDashboardNotFollowed = errors.New("dashboard type is not followed")

	// Notifications
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidSource        = errors.New("invalid notification source")

	// Generic
	ErrNotFound   = errors.New("resource not found")
	ErrInternal   = errors.New("internal server error")
	ErrBadRequest = errors.New("bad request")
)

// TransportError describes a failed connect or reconnect attempt. It never
// reaches consumers directly; it is carried in connection events and logs.
type TransportError struct {
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on attempt %d: %v", e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DataFetchError is attached to a snapshot whose refresh failed. The
// snapshot itself stays valid.
type DataFetchError struct {
	Resource string
	Err      error
}

func (e *DataFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *DataFetchError) Unwrap() error {
	return e.Err
}

// MarkReadError is returned after an optimistic read flip was rolled back.
type MarkReadError struct {
	IDs []string
	All bool
	Err error
}

func (e *MarkReadError) Error() string {
	if e.All {
		return fmt.Sprintf("mark all notifications read: %v", e.Err)
	}
	return fmt.Sprintf("mark %d notification(s) read: %v", len(e.IDs), e.Err)
}

func (e *MarkReadError) Unwrap() error {
	return e.Err
}

// MalformedMessageError is produced at the channel boundary for frames that
// cannot be decoded. Such frames are logged and dropped.
type MalformedMessageError struct {
	Kind string
	Err  error
}

func (e *MalformedMessageError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("malformed frame: %v", e.Err)
	}
	return fmt.Sprintf("malformed %s payload: %v", e.Kind, e.Err)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// AppError wraps errors with additional context for HTTP responses
type AppError struct {
	Err        error  // The underlying error
	Message    string // User-friendly message
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
	Details    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors for common cases
func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "BAD_REQUEST",
		StatusCode: 400,
	}
}

func NewNotFoundError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "NOT_FOUND",
		StatusCode: 404,
	}
}

func NewValidationError(err error, message string, details map[string]interface{}) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		StatusCode: 422,
		Details:    details,
	}
}

func NewRateLimitError() *AppError {
	return &AppError{
		Err:        ErrRateLimited,
		Message:    "Too many requests. Please try again later.",
		Code:       "RATE_LIMITED",
		StatusCode: 429,
	}
}

func NewUpstreamError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "UPSTREAM_ERROR",
		StatusCode: 502,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "An unexpected error occurred",
		Code:       "INTERNAL_ERROR",
		StatusCode: 500,
	}
}

// ValidationErrors holds multiple field validation errors
type ValidationErrors struct {
	Errors map[string][]string `json:"errors"`
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make(map[string][]string),
	}
}

func (v *ValidationErrors) Add(field, message string) {
	v.Errors[field] = append(v.Errors[field], message)
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("validation failed: %d field(s) have errors", len(v.Errors))
}
