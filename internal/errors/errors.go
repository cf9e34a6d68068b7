// Package errors defines the caller-facing API errors and the domain errors raised
// by the account pool, the upstream transport and the stream translator.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is the error shape returned to API callers.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Predefined API errors
var (
	ErrBadRequest       = &APIError{HTTPStatus: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Invalid request parameters"}
	ErrUnauthorized     = &APIError{HTTPStatus: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Invalid or missing API key"}
	ErrNoAccounts       = &APIError{HTTPStatus: http.StatusServiceUnavailable, Code: "NO_HEALTHY_ACCOUNT", Message: "No healthy upstream account is available"}
	ErrUpstream         = &APIError{HTTPStatus: http.StatusBadGateway, Code: "UPSTREAM_ERROR", Message: "Upstream service returned an error"}
	ErrStreamRead       = &APIError{HTTPStatus: http.StatusBadGateway, Code: "STREAM_IO_ERROR", Message: "Failed to read the upstream stream"}
	ErrNoImages         = &APIError{HTTPStatus: http.StatusBadGateway, Code: "EMPTY_RESULT", Message: "Upstream produced no images"}
	ErrClientClosed     = &APIError{HTTPStatus: 499, Code: "CLIENT_CLOSED", Message: "Client closed the request"}
	ErrTimeout          = &APIError{HTTPStatus: http.StatusGatewayTimeout, Code: "TIMEOUT", Message: "Upstream call exceeded the time limit"}
	ErrInternalServer   = &APIError{HTTPStatus: http.StatusInternalServerError, Code: "INTERNAL_SERVER_ERROR", Message: "An unexpected error occurred"}
	ErrResourceNotFound = &APIError{HTTPStatus: http.StatusNotFound, Code: "NOT_FOUND", Message: "Resource not found"}
)

// NewAPIError creates a new APIError with a custom message.
func NewAPIError(base *APIError, message string) *APIError {
	return &APIError{
		HTTPStatus: base.HTTPStatus,
		Code:       base.Code,
		Message:    message,
	}
}

// Domain errors
var (
	// ErrAuth is returned when the caller credential does not match.
	ErrAuth = errors.New("invalid api key")

	// ErrNoHealthyAccount is returned when the pool is empty or every account is unhealthy.
	ErrNoHealthyAccount = errors.New("no healthy account available")

	// ErrEmptyResult is returned when an image flow finished without any image.
	ErrEmptyResult = errors.New("upstream produced no image results")
)

// UpstreamStatusError reports a non-success status from the upstream.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// StreamIOError wraps a read failure in the middle of an upstream stream.
type StreamIOError struct {
	Err error
}

func (e *StreamIOError) Error() string {
	return "read upstream stream: " + e.Err.Error()
}

func (e *StreamIOError) Unwrap() error {
	return e.Err
}

// DecodeError describes one upstream line that could not be parsed.
// It is logged and skipped, never returned to a caller.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode line %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FromError maps a domain error to the API error sent to callers.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var statusErr *UpstreamStatusError
	var streamErr *StreamIOError
	switch {
	case errors.Is(err, ErrAuth):
		return ErrUnauthorized
	case errors.Is(err, ErrNoHealthyAccount):
		return ErrNoAccounts
	case errors.Is(err, ErrEmptyResult):
		return ErrNoImages
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &statusErr):
		return NewAPIError(ErrUpstream, statusErr.Error())
	case errors.As(err, &streamErr):
		return NewAPIError(ErrStreamRead, streamErr.Error())
	case IsIgnorableError(err):
		return ErrClientClosed
	default:
		return NewAPIError(ErrInternalServer, err.Error())
	}
}
