package wal

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entry does not exist for the tenant.
	ErrNotFound = errors.New("wal entry not found")

	// ErrNoCheckpoint is returned when a tenant has no checkpoint yet.
	ErrNoCheckpoint = errors.New("no checkpoint recorded")

	// ErrEmptyTenant is returned when an operation is not scoped to a tenant.
	ErrEmptyTenant = errors.New("tenant id is required")

	ErrEmptyKey          = errors.New("idempotency key is required")
	ErrEmptyID           = errors.New("entry id is required")
	ErrEmptyWorker       = errors.New("worker id is required")
	ErrInvalidBatchSize  = errors.New("batch size must be positive")
	ErrInvalidMaxRetries = errors.New("max retries must not be negative")
)

// ErrorClass decides how a failed attempt is routed.
type ErrorClass uint8

const (
	// Transient failures (timeouts, dependency 5xx) are retried with backoff.
	Transient ErrorClass = iota

	// Permanent failures (malformed payloads, schema violations) are
	// dead-lettered immediately without consuming retry budget.
	Permanent
)

func (c ErrorClass) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// ClassifiedError tags an error with its ErrorClass at the point it is raised.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// PermanentError wraps err as non-retryable.
func PermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: Permanent, Err: err}
}

// TransientError wraps err as retryable.
func TransientError(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: Transient, Err: err}
}

// ClassOf returns the class of err. Unclassified errors are transient.
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Transient
}
