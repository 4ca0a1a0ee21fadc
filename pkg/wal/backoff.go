package wal

import "time"

// retryDelays is the requeue delay keyed by attempt number (1-based).
// Attempts past the end of the table reuse the last delay.
var retryDelays = []time.Duration{
	30 * time.Second,
	5 * time.Minute,
	15 * time.Minute,
}

// RetryDelay returns how long a transiently failed entry waits before it can
// be claimed again, given the retry count after the failure was recorded.
func RetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}
	return retryDelays[attempt-1]
}

// Outcome is the result of applying a failure to an entry.
type Outcome struct {
	Status      Status
	RetryCount  int
	AvailableAt time.Time
	Terminal    bool
}

// ApplyFailure decides the next state for a processing entry that failed with
// the given class. Backends call this so every implementation routes failures
// identically. Terminal transitions leave the retry count unchanged.
func ApplyFailure(retryCount, maxRetries int, class ErrorClass, now time.Time) Outcome {
	if class == Transient && retryCount < maxRetries {
		next := retryCount + 1
		return Outcome{
			Status:      StatusPending,
			RetryCount:  next,
			AvailableAt: now.Add(RetryDelay(next)),
		}
	}
	return Outcome{
		Status:      StatusFailed,
		RetryCount:  retryCount,
		AvailableAt: now,
		Terminal:    true,
	}
}
