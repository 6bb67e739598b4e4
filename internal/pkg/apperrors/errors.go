package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrTransport ErrorType = "TRANSPORT_ERROR"   // connection reset, timeout; retryable
	ErrUpstream  ErrorType = "UPSTREAM_ERROR"    // gateway 5xx; retryable with backoff
	ErrThrottled ErrorType = "UPSTREAM_THROTTLED" // gateway 429; wait Retry-After then retry
	ErrRejected  ErrorType = "UPSTREAM_REJECTED" // gateway 4xx != 429; not retryable
	ErrAuth      ErrorType = "AUTH_FAILED"
	ErrMalformed ErrorType = "MALFORMED_RESPONSE" // 2xx that is not valid JSON
	ErrInternal  ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the engine. Risk denials are
// not errors and never appear here; they are ordinary boolean decisions.
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
	}
}

func NewAuth(msg string, cause error) *AppError {
	return New(ErrAuth, msg, cause)
}

func NewTransport(msg string, cause error) *AppError {
	return New(ErrTransport, msg, cause)
}

// Retryable reports whether the pipeline may retry after this error.
func Retryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Type {
	case ErrTransport, ErrUpstream, ErrThrottled, ErrMalformed:
		return true
	default:
		return false
	}
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrTransport:
		return http.StatusServiceUnavailable
	case ErrUpstream, ErrMalformed:
		return http.StatusBadGateway
	case ErrThrottled:
		return http.StatusTooManyRequests
	case ErrRejected:
		return http.StatusBadRequest
	case ErrAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
