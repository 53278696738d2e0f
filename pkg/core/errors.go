package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a classified completion failure. Upstream failures keep the
// provider error reachable through errors.Is/As.
type Error struct {
	Type     ErrorType
	Message  string
	Provider string
	// Status is the upstream HTTP status, or zero when none was received.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Type, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorType labels logs, spans and the upstream error metric.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

func NewRateLimitError(message string) *Error {
	return &Error{Type: ErrRateLimit, Message: message}
}

func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// NewProviderError wraps a failure that never produced an HTTP status,
// such as a dial error or a malformed stream.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:     ErrProvider,
		Message:  fmt.Sprintf("%s: %v", provider, underlying),
		Provider: provider,
		Err:      underlying,
	}
}

// NewUpstreamError classifies a non-2xx upstream response by status.
func NewUpstreamError(provider string, status int, underlying error) *Error {
	return &Error{
		Type:     ErrorTypeForStatus(status),
		Message:  provider + ": upstream request failed",
		Provider: provider,
		Status:   status,
		Err:      underlying,
	}
}

// ErrorTypeOf returns the ErrorType of err, or ErrAPI for foreign errors.
func ErrorTypeOf(err error) ErrorType {
	var coreErr *Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr.Type
	}
	return ErrAPI
}

func ErrorTypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrInvalidRequest
	case status == http.StatusUnauthorized:
		return ErrAuthentication
	case status == http.StatusForbidden:
		return ErrPermission
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimit
	case status == 529, status == http.StatusServiceUnavailable:
		return ErrOverloaded
	case status >= 500:
		return ErrAPI
	default:
		return ErrProvider
	}
}
