package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrTransport, true},
		{ErrUpstream, true},
		{ErrThrottled, true},
		{ErrMalformed, true},
		{ErrRejected, false},
		{ErrAuth, false},
		{ErrInternal, false},
	}
	for _, tc := range cases {
		if got := Retryable(New(tc.errType, "x", nil)); got != tc.want {
			t.Errorf("Retryable(%s) = %v, want %v", tc.errType, got, tc.want)
		}
	}

	if Retryable(errors.New("plain")) {
		t.Error("plain errors must not be retryable")
	}
	if Retryable(nil) {
		t.Error("nil must not be retryable")
	}
}

func TestRetryableSeesWrappedErrors(t *testing.T) {
	err := fmt.Errorf("call failed: %w", NewTransport("connection reset", nil))
	if !Retryable(err) {
		t.Error("wrapped transport error should stay retryable")
	}
}

func TestWrapPreservesAppErrors(t *testing.T) {
	orig := NewAuth("bad key", nil)
	if Wrap(orig) != orig {
		t.Error("Wrap must not re-wrap an AppError")
	}

	wrapped := Wrap(errors.New("boom"))
	if wrapped.Type != ErrInternal {
		t.Errorf("Wrap(plain).Type = %s, want %s", wrapped.Type, ErrInternal)
	}
	if Wrap(nil) != nil {
		t.Error("Wrap(nil) must be nil")
	}
}

func TestStatusMapping(t *testing.T) {
	if got := New(ErrThrottled, "x", nil).HTTPStatus; got != http.StatusTooManyRequests {
		t.Errorf("throttled status = %d", got)
	}
	if got := New(ErrAuth, "x", nil).HTTPStatus; got != http.StatusUnauthorized {
		t.Errorf("auth status = %d", got)
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransport("dial gateway", cause)
	if got := err.Error(); got != "dial gateway: connection refused" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap chain should reach the cause")
	}
}
