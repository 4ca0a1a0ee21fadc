// Package checkpoint writes periodic progress markers for a consolidation
// worker. Checkpoints exist for observability and lag reporting only; the
// claim protocol alone decides which entries are processed.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/memwal/pkg/logger"
	"github.com/papercomputeco/memwal/pkg/wal"
)

// DefaultInterval is the number of finalized entries between checkpoints.
const DefaultInterval = 100

// Config holds the settings of a Manager.
type Config struct {
	Store    wal.Store
	Tenant   string
	WorkerID string

	// Interval is the number of finalized entries per checkpoint.
	Interval int

	// Clock defaults to time.Now.
	Clock func() time.Time

	Logger *slog.Logger
}

// Manager counts finalized entries for one (tenant, worker) and writes a
// checkpoint every Interval of them. It is not safe for concurrent use; each
// worker loop owns its managers.
type Manager struct {
	store    wal.Store
	tenant   string
	workerID string
	interval int
	clock    func() time.Time
	logger   *slog.Logger

	batch     []string
	processed int64
	last      *wal.Checkpoint
}

// NewManager creates a Manager.
func NewManager(c Config) (*Manager, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("checkpoint: store is required")
	}
	if c.Tenant == "" {
		return nil, wal.ErrEmptyTenant
	}
	if c.WorkerID == "" {
		return nil, wal.ErrEmptyWorker
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return &Manager{
		store:    c.Store,
		tenant:   c.Tenant,
		workerID: c.WorkerID,
		interval: c.Interval,
		clock:    c.Clock,
		logger:   c.Logger,
	}, nil
}

// Finalized records one entry reaching completed or failed. When the batch
// reaches the interval a checkpoint is written and returned; otherwise the
// returned checkpoint is nil.
func (m *Manager) Finalized(ctx context.Context, entryID string) (*wal.Checkpoint, error) {
	m.batch = append(m.batch, entryID)
	if len(m.batch) < m.interval {
		return nil, nil
	}
	return m.write(ctx)
}

// SetInterval changes the checkpoint interval without losing the entries
// counted so far. A non-positive n restores DefaultInterval. A batch already
// at or past the new interval is written on the next Finalized.
func (m *Manager) SetInterval(n int) {
	if n <= 0 {
		n = DefaultInterval
	}
	m.interval = n
}

// Interval returns the current checkpoint interval.
func (m *Manager) Interval() int {
	return m.interval
}

// Flush writes a checkpoint for a partial batch. It is called when the
// worker drains so progress since the last checkpoint is not lost from view.
func (m *Manager) Flush(ctx context.Context) (*wal.Checkpoint, error) {
	if len(m.batch) == 0 {
		return nil, nil
	}
	return m.write(ctx)
}

func (m *Manager) write(ctx context.Context) (*wal.Checkpoint, error) {
	now := m.clock().UTC()
	cp := &wal.Checkpoint{
		// Monotonic ULIDs keep LatestCheckpoint stable when two checkpoints
		// share a timestamp.
		ID:        wal.NewEntryID(now),
		Tenant:    m.tenant,
		WorkerID:  m.workerID,
		BatchSize: len(m.batch),
		Watermark: watermark(m.batch),
		Processed: m.processed + int64(len(m.batch)),
		CreatedAt: now,
	}

	if err := m.store.SaveCheckpoint(ctx, cp, m.batch); err != nil {
		// Keep the batch so the next attempt covers it.
		return nil, fmt.Errorf("saving checkpoint: %w", err)
	}

	m.processed = cp.Processed
	m.batch = m.batch[:0]
	m.last = cp

	m.logger.Info("checkpoint written",
		"tenant", cp.Tenant,
		"worker_id", cp.WorkerID,
		"checkpoint_id", cp.ID,
		"batch_size", cp.BatchSize,
		"watermark", cp.Watermark,
		"processed", cp.Processed,
	)
	return cp, nil
}

// Pending returns the number of finalized entries not yet checkpointed.
func (m *Manager) Pending() int {
	return len(m.batch)
}

// Processed returns the cumulative number of checkpointed entries.
func (m *Manager) Processed() int64 {
	return m.processed
}

// Last returns the most recent checkpoint written by this manager.
func (m *Manager) Last() *wal.Checkpoint {
	return m.last
}

// watermark is the newest id in the batch. Entry ids are ULIDs, so the
// lexical maximum is the most recently created entry.
func watermark(ids []string) string {
	var newest string
	for _, id := range ids {
		if id > newest {
			newest = id
		}
	}
	return newest
}
