package storage

import (
	"fmt"

	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/wal"
)

// NotFoundError is returned when a WAL entry or memory record doesn't exist.
// It unwraps to wal.ErrNotFound or memory.ErrNotFound depending on Kind.
type NotFoundError struct {
	Kind   string
	Tenant string
	ID     string
}

const (
	KindEntry  = "entry"
	KindRecord = "record"
)

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s not found: %s/%s", e.Kind, e.Tenant, e.ID)
}

func (e NotFoundError) Unwrap() error {
	if e.Kind == KindRecord {
		return memory.ErrNotFound
	}
	return wal.ErrNotFound
}
