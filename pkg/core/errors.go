package core

import (
	"errors"
	"fmt"
)

// Error represents a negotiation or gateway error.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrPermission     ErrorType = "permission_error"
	ErrCredential     ErrorType = "credential_error"
	ErrConnection     ErrorType = "connection_error"
	ErrChannel        ErrorType = "channel_error"
	ErrToolInvocation ErrorType = "tool_invocation_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewPermissionError reports denied or unavailable microphone access.
func NewPermissionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrPermission,
		Message: message,
		cause:   cause,
	}
}

// NewCredentialError reports a token proxy failure.
func NewCredentialError(message string, cause error) *Error {
	return &Error{
		Type:    ErrCredential,
		Message: message,
		cause:   cause,
	}
}

// NewConnectionError reports a realtime session that failed to establish.
func NewConnectionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrConnection,
		Message: message,
		cause:   cause,
	}
}

// NewChannelError reports an outbound message that could not be delivered.
func NewChannelError(message string, cause error) *Error {
	return &Error{
		Type:    ErrChannel,
		Message: message,
		cause:   cause,
	}
}

// NewToolInvocationError reports a tool call with malformed arguments or a failing handler.
func NewToolInvocationError(tool, message string) *Error {
	return &Error{
		Type:    ErrToolInvocation,
		Message: message,
		Param:   tool,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewOverloadedError creates an overloaded error.
func NewOverloadedError(message string) *Error {
	return &Error{
		Type:    ErrOverloaded,
		Message: message,
	}
}

// IsRetryable returns true if the operation can be retried without operator action.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrCredential, ErrConnection, ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// UserVisible reports whether the error should be shown to the operator
// rather than only logged.
func (e *Error) UserVisible() bool {
	switch e.Type {
	case ErrPermission, ErrCredential, ErrConnection, ErrInvalidRequest:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.cause
}

// IsType reports whether err wraps a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var coreErr *Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr.Type == t
	}
	return false
}
