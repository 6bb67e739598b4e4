package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/ZeusMX2125/topstep-engine/internal/pkg/apperrors"
)

// Result is the tagged outcome of one gateway call. The pipeline never
// panics and never returns raw errors to operation code; everything
// surfaces as a Success or a Failure so callers can pick a fallback
// (stale cache, skip, abort) without exception plumbing.
type Result struct {
	ok      bool
	Status  int
	Data    json.RawMessage
	Message string
	Code    int
	Details json.RawMessage
}

func Success(data json.RawMessage, status int) Result {
	return Result{ok: true, Status: status, Data: data}
}

func Failure(message string, status, code int, details json.RawMessage) Result {
	return Result{Status: status, Message: message, Code: code, Details: details}
}

func (r Result) OK() bool {
	return r.ok
}

// Decode unmarshals a Success payload into v. On a Failure it returns the
// equivalent error instead of touching v.
func (r Result) Decode(v any) error {
	if !r.ok {
		return r.Err()
	}
	return json.Unmarshal(r.Data, v)
}

// Err converts a Failure into a typed error, so callers preferring
// error-style propagation can write `if err := res.Err(); err != nil`.
// Success yields nil.
func (r Result) Err() error {
	if r.ok {
		return nil
	}
	return apperrors.New(errorTypeForStatus(r.Status), r.Message, nil)
}

func errorTypeForStatus(status int) apperrors.ErrorType {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.ErrAuth
	case status == http.StatusTooManyRequests:
		return apperrors.ErrThrottled
	case status == http.StatusServiceUnavailable:
		return apperrors.ErrTransport
	case status >= 500:
		return apperrors.ErrUpstream
	case status >= 400:
		return apperrors.ErrRejected
	default:
		return apperrors.ErrInternal
	}
}
