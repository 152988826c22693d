package verifier

import (
	"errors"
	"fmt"
)

// ErrMissingReceipt is returned before any network call when there is no
// receipt to submit.
var ErrMissingReceipt = errors.New("receipt is missing")

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("verification transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError means the server answered 2xx with a body we cannot read.
type DecodeError struct {
	Err  error
	Body string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode verification response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ServerError is a non-2xx answer from the verification service.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("verification server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("verification server returned status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *ServerError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsTransient reports whether err is worth retrying: transport failures and
// retryable server errors. Decode errors and declined verifications are not.
func IsTransient(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Retryable()
	}
	return false
}
