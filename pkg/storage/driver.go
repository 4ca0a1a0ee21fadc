// Package storage defines the persistence backend shared by the ingestion
// gateway, the consolidation workers, and the reaper.
//
// A Driver is a WAL store and a memory record store over the same database,
// so a worker can finalize an entry against the backend that holds the
// records it just updated.
package storage

import (
	"context"

	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/wal"
)

// Driver is implemented by inmemory, sqlite, libsql and postgres.
type Driver interface {
	wal.Store
	memory.RecordStore

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error

	// Close closes the store and releases any resources.
	Close() error
}
