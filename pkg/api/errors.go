package api

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an orchestration error.
type ErrorType string

const (
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConfiguration  ErrorType = "configuration_error"
	ErrorTypeTimeout        ErrorType = "timeout_error"
	ErrorTypeDispatch       ErrorType = "dispatch_error"
	ErrorTypeTransport      ErrorType = "transport_error"
)

// APIError represents a structured error with type, code, param, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewConfigurationError reports a missing or unusable setting. It aborts
// the request that needed it.
func NewConfigurationError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeConfiguration,
		Param:   param,
		Message: message,
	}
}

// NewTimeoutError reports an elapsed deadline while waiting on a run, a
// poll, or a busy session.
func NewTimeoutError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTimeout,
		Message: message,
	}
}

// NewDispatchError reports protocol drift with the remote service: an
// unknown tool, an unsupported tool-call type, or an unexpected delta role.
func NewDispatchError(code, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeDispatch,
		Code:    code,
		Message: message,
	}
}

// NewTransportError wraps a failure talking to a remote service.
func NewTransportError(code, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTransport,
		Code:    code,
		Message: message,
	}
}

// IsType reports whether err wraps an APIError of the given type.
func IsType(err error, t ErrorType) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == t
	}
	return false
}

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool { return IsType(err, ErrorTypeTimeout) }

// IsDispatch reports whether err is a dispatch error.
func IsDispatch(err error) bool { return IsType(err, ErrorTypeDispatch) }

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return IsType(err, ErrorTypeConfiguration) }
