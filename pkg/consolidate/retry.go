package consolidate

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/wal"
)

const (
	DefaultRetryInitialInterval = 50 * time.Millisecond
	DefaultRetryMaxElapsed      = 5 * time.Second
)

// NewStoreBackoff is the retry policy for store round-trips: exponential from
// initial, giving up after maxElapsed.
func NewStoreBackoff(initial, maxElapsed time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxElapsedTime = maxElapsed
		return b
	}
}

// withRetry runs op until it succeeds, fails permanently, or the policy
// gives up.
func withRetry[T any](ctx context.Context, policy func() backoff.BackOff, op func() (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(policy(), ctx))
}

// retryable reports whether a store error may clear on a later attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, wal.ErrNotFound), errors.Is(err, memory.ErrNotFound):
		return false
	case errors.Is(err, wal.ErrEmptyTenant), errors.Is(err, wal.ErrEmptyKey),
		errors.Is(err, wal.ErrEmptyID), errors.Is(err, wal.ErrEmptyWorker),
		errors.Is(err, wal.ErrInvalidBatchSize), errors.Is(err, wal.ErrInvalidMaxRetries),
		errors.Is(err, memory.ErrInvalidScore):
		return false
	}
	return wal.ClassOf(err) == wal.Transient
}
