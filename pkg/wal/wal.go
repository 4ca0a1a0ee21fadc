// Package wal defines the write-ahead log of interactions awaiting consolidation.
//
// The ingestion gateway appends one Entry per raw interaction and returns
// immediately. Consolidation workers later claim batches of pending entries,
// process them, and finalize each one with Complete or Fail. Workers coordinate
// only through the Store's atomic Claim; there is no worker-to-worker traffic.
//
// Every operation is scoped to a tenant. There is no process-wide default
// tenant: an empty tenant id is rejected with ErrEmptyTenant.
package wal

import (
	"context"
	"time"
)

// Store is the durable table of pending work plus the atomic primitives of the
// claim protocol. Implementations live under pkg/storage.
type Store interface {
	// Append inserts a new pending entry. If an entry with the same
	// idempotency key already exists for the tenant, its id is returned with
	// created=false and nothing is mutated.
	Append(ctx context.Context, req AppendRequest) (id string, created bool, err error)

	// Claim atomically moves up to req.BatchSize due pending entries, oldest
	// first, to processing under req.WorkerID. Two concurrent Claim calls never
	// return the same entry.
	Claim(ctx context.Context, req ClaimRequest) ([]*Entry, error)

	// Complete transitions a processing entry to completed. It returns false
	// when the entry is not processing, or is held by a different worker.
	Complete(ctx context.Context, tenant, id, workerID string) (bool, error)

	// Fail records a failed attempt. Transient failures with retry budget
	// left go back to pending after a backoff delay; everything else is
	// dead-lettered. It returns false when the entry is not processing, or is
	// held by a different worker.
	Fail(ctx context.Context, req FailRequest) (bool, error)

	// Release returns claimed but unstarted entries to pending without
	// consuming retry budget. It returns the number of entries released.
	Release(ctx context.Context, tenant string, ids []string, workerID string) (int, error)

	// Touch refreshes updated_at on the given processing entries held by
	// workerID so the reaper treats those claims as live. It returns the ids
	// that are still held; entries reaped or finalized elsewhere are left
	// untouched and omitted.
	Touch(ctx context.Context, tenant string, ids []string, workerID string) ([]string, error)

	// Reap resets processing entries whose updated_at is older than
	// staleAfter back to pending. It returns the number of entries reaped.
	Reap(ctx context.Context, tenant string, staleAfter time.Duration) (int, error)

	// Get returns a single entry.
	Get(ctx context.Context, tenant, id string) (*Entry, error)

	// Stats returns entry counts by status.
	Stats(ctx context.Context, tenant string) (*Stats, error)

	// Pending lists up to limit pending entries, oldest first.
	Pending(ctx context.Context, tenant string, limit int) ([]*Entry, error)

	// Failed lists up to limit dead-lettered entries, most recent first.
	Failed(ctx context.Context, tenant string, limit int) ([]*Entry, error)

	// SaveCheckpoint persists cp and stamps its id onto the given entries.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint, entryIDs []string) error

	// LatestCheckpoint returns the most recent checkpoint for the tenant.
	// A non-empty workerID narrows the lookup to that worker.
	LatestCheckpoint(ctx context.Context, tenant, workerID string) (*Checkpoint, error)
}

// AppendRequest is the input to Store.Append.
type AppendRequest struct {
	Tenant         string
	IdempotencyKey string
	Payload        []byte
	Metadata       map[string]any
}

// Validate checks the request before it reaches a backend.
func (r AppendRequest) Validate() error {
	if r.Tenant == "" {
		return ErrEmptyTenant
	}
	if r.IdempotencyKey == "" {
		return ErrEmptyKey
	}
	return nil
}

// ClaimRequest is the input to Store.Claim.
type ClaimRequest struct {
	Tenant    string
	BatchSize int
	WorkerID  string
}

// Validate checks the request before it reaches a backend.
func (r ClaimRequest) Validate() error {
	if r.Tenant == "" {
		return ErrEmptyTenant
	}
	if r.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if r.WorkerID == "" {
		return ErrEmptyWorker
	}
	return nil
}

// FailRequest is the input to Store.Fail.
type FailRequest struct {
	Tenant   string
	ID       string
	WorkerID string

	// Reason is stored as the entry's last_error.
	Reason string

	// Class decides between backoff and immediate dead-lettering.
	Class ErrorClass

	// MaxRetries is the retry budget for this tenant.
	MaxRetries int
}

// Validate checks the request before it reaches a backend.
func (r FailRequest) Validate() error {
	if r.Tenant == "" {
		return ErrEmptyTenant
	}
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	return nil
}
