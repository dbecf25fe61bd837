package domain

import "errors"

var (
	// ErrInvalidPayload is returned when an event body cannot be used
	ErrInvalidPayload = errors.New("invalid event payload")

	// ErrMaxRetriesExceeded is returned when a job used up its attestation attempts
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrDeliveriesClosed is returned when the broker stops delivering
	ErrDeliveriesClosed = errors.New("delivery channel closed")
)

// RetryableError wraps transient errors that should trigger a republish
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
