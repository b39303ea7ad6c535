package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// Sane defaults are listed below. For errors that need a custom message (for
// example a backend fault whose message is passed through verbatim), a request
// error can be constructed on the spot and the router returns the exact
// message inside it.
//
// Caller faults (401/400) carry the message the caller should see.
// Infrastructure faults (store, sink) carry a generic message; the detail
// stays in local diagnostics only.
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return r.Err.Error()
}

var (
	ErrMissingAuth  = &RequestError{Err: errors.New("Authorization header missing or invalid format. Use Bearer token."), StatusCode: 401}
	ErrInvalidToken = &RequestError{Err: errors.New("Invalid or expired token"), StatusCode: 401}

	ErrAuthUnavailable = &RequestError{Err: errors.New("Error authenticating request"), StatusCode: 500}

	ErrMalformedBody  = &RequestError{Err: errors.New("malformed request body"), StatusCode: 400}
	ErrMissingModelID = &RequestError{Err: errors.New("modelId is required"), StatusCode: 400}

	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}
)

// NewBackendError wraps a fault from the inference backend. The backend's own
// message is surfaced to the caller and recorded in telemetry.
func NewBackendError(format string, args ...any) *RequestError {
	return &RequestError{StatusCode: 500, Err: fmt.Errorf(format, args...)}
}
