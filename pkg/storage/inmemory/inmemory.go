// Package inmemory provides a mutex-guarded storage.Driver. A single lock
// serializes every operation, which makes Claim trivially exclusive; the
// conformance suite in storagetest runs against it alongside the SQL backends.
package inmemory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/wal"
)

type tenantKey struct {
	tenant string
	key    string
}

type observationKey struct {
	tenant  string
	key     string
	entryID string
}

type linkKey struct {
	tenant string
	from   string
	to     string
	rel    string
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock overrides the time source. Tests use it to step past backoff
// delays and reap thresholds without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(d *Driver) {
		d.clock = clock
	}
}

// Driver implements storage.Driver with in-process maps.
type Driver struct {
	// mu guards every map below
	mu sync.Mutex

	clock  func() time.Time
	closed bool

	entries     map[string]*wal.Entry
	keys        map[tenantKey]string
	checkpoints []*wal.Checkpoint

	records      map[tenantKey]*memory.Record
	observations map[observationKey]struct{}
	links        map[linkKey]memory.Link
	linkOrder    []linkKey
}

// NewDriver creates an empty in-memory driver.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		clock:        time.Now,
		entries:      make(map[string]*wal.Entry),
		keys:         make(map[tenantKey]string),
		records:      make(map[tenantKey]*memory.Record),
		observations: make(map[observationKey]struct{}),
		links:        make(map[linkKey]memory.Link),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var errClosed = errors.New("in-memory driver is closed")

func (d *Driver) now() time.Time {
	return d.clock().UTC()
}

// Ping reports whether the driver is still open.
func (d *Driver) Ping(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}
	return nil
}

// Close marks the driver closed. Data is kept so tests can inspect it.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

var _ storage.Driver = (*Driver)(nil)
