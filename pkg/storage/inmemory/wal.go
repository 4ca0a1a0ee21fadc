package inmemory

import (
	"context"
	"sort"
	"time"

	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/wal"
)

func (d *Driver) Append(_ context.Context, req wal.AppendRequest) (string, bool, error) {
	if err := req.Validate(); err != nil {
		return "", false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", false, errClosed
	}

	tk := tenantKey{tenant: req.Tenant, key: req.IdempotencyKey}
	if id, ok := d.keys[tk]; ok {
		return id, false, nil
	}

	now := d.now()
	e := &wal.Entry{
		ID:             wal.NewEntryID(now),
		Tenant:         req.Tenant,
		CreatedAt:      now,
		UpdatedAt:      now,
		AvailableAt:    now,
		Payload:        append([]byte(nil), req.Payload...),
		Status:         wal.StatusPending,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       copyMeta(req.Metadata),
	}
	d.entries[e.ID] = e
	d.keys[tk] = e.ID

	return e.ID, true, nil
}

func (d *Driver) Claim(_ context.Context, req wal.ClaimRequest) ([]*wal.Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed
	}

	now := d.now()
	due := d.filter(req.Tenant, func(e *wal.Entry) bool {
		return e.Status == wal.StatusPending && !e.AvailableAt.After(now)
	})
	sortOldestFirst(due)
	if len(due) > req.BatchSize {
		due = due[:req.BatchSize]
	}

	claimed := make([]*wal.Entry, 0, len(due))
	for _, e := range due {
		worker := req.WorkerID
		e.Status = wal.StatusProcessing
		e.WorkerID = &worker
		e.UpdatedAt = now
		claimed = append(claimed, e.Clone())
	}
	return claimed, nil
}

func (d *Driver) Complete(_ context.Context, tenant, id, workerID string) (bool, error) {
	if tenant == "" {
		return false, wal.ErrEmptyTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, errClosed
	}

	e, ok := d.held(tenant, id, workerID)
	if !ok {
		return false, nil
	}

	now := d.now()
	e.Status = wal.StatusCompleted
	e.UpdatedAt = now
	e.ProcessedAt = &now
	return true, nil
}

func (d *Driver) Fail(_ context.Context, req wal.FailRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, errClosed
	}

	e, ok := d.held(req.Tenant, req.ID, req.WorkerID)
	if !ok {
		return false, nil
	}

	now := d.now()
	out := wal.ApplyFailure(e.RetryCount, req.MaxRetries, req.Class, now)

	reason := req.Reason
	e.LastError = &reason
	e.Status = out.Status
	e.RetryCount = out.RetryCount
	e.AvailableAt = out.AvailableAt
	e.UpdatedAt = now
	e.Metadata = copyMeta(e.Metadata)
	e.Metadata[wal.MetaErrorClass] = req.Class.String()
	if out.Terminal {
		e.ProcessedAt = &now
	} else {
		e.WorkerID = nil
	}
	return true, nil
}

func (d *Driver) Release(_ context.Context, tenant string, ids []string, workerID string) (int, error) {
	if tenant == "" {
		return 0, wal.ErrEmptyTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errClosed
	}

	now := d.now()
	released := 0
	for _, id := range ids {
		e, ok := d.held(tenant, id, workerID)
		if !ok {
			continue
		}
		e.Status = wal.StatusPending
		e.WorkerID = nil
		e.AvailableAt = now
		e.UpdatedAt = now
		released++
	}
	return released, nil
}

func (d *Driver) Touch(_ context.Context, tenant string, ids []string, workerID string) ([]string, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}
	if workerID == "" {
		return nil, wal.ErrEmptyWorker
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed
	}

	now := d.now()
	held := make([]string, 0, len(ids))
	for _, id := range ids {
		e, ok := d.held(tenant, id, workerID)
		if !ok {
			continue
		}
		e.UpdatedAt = now
		held = append(held, id)
	}
	return held, nil
}

func (d *Driver) Reap(_ context.Context, tenant string, staleAfter time.Duration) (int, error) {
	if tenant == "" {
		return 0, wal.ErrEmptyTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errClosed
	}

	now := d.now()
	cutoff := now.Add(-staleAfter)
	stale := d.filter(tenant, func(e *wal.Entry) bool {
		return e.Status == wal.StatusProcessing && e.UpdatedAt.Before(cutoff)
	})

	for _, e := range stale {
		var from string
		if e.WorkerID != nil {
			from = *e.WorkerID
		}
		note := wal.ReapNote(from)

		e.Status = wal.StatusPending
		e.WorkerID = nil
		e.LastError = &note
		e.AvailableAt = now
		e.UpdatedAt = now
		e.Metadata = wal.CountMeta(copyMeta(e.Metadata), wal.MetaReapCount)
		e.Metadata[wal.MetaReapedFrom] = from
	}
	return len(stale), nil
}

func (d *Driver) Get(_ context.Context, tenant, id string) (*wal.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok || e.Tenant != tenant {
		return nil, storage.NotFoundError{Kind: storage.KindEntry, Tenant: tenant, ID: id}
	}
	return e.Clone(), nil
}

func (d *Driver) Stats(_ context.Context, tenant string) (*wal.Stats, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stats := &wal.Stats{}
	for _, e := range d.entries {
		if e.Tenant != tenant {
			continue
		}
		stats.Add(e.Status, 1)
		if e.Status == wal.StatusPending && (stats.OldestPendingAt == nil || e.CreatedAt.Before(*stats.OldestPendingAt)) {
			created := e.CreatedAt
			stats.OldestPendingAt = &created
		}
	}
	return stats, nil
}

func (d *Driver) Pending(_ context.Context, tenant string, limit int) ([]*wal.Entry, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.filter(tenant, func(e *wal.Entry) bool { return e.Status == wal.StatusPending })
	sortOldestFirst(pending)
	return cloneLimit(pending, limit), nil
}

func (d *Driver) Failed(_ context.Context, tenant string, limit int) ([]*wal.Entry, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	failed := d.filter(tenant, func(e *wal.Entry) bool { return e.Status == wal.StatusFailed })
	sort.Slice(failed, func(i, j int) bool {
		pi, pj := failed[i].ProcessedAt, failed[j].ProcessedAt
		if !pi.Equal(*pj) {
			return pi.After(*pj)
		}
		return failed[i].ID > failed[j].ID
	})
	return cloneLimit(failed, limit), nil
}

func (d *Driver) SaveCheckpoint(_ context.Context, cp *wal.Checkpoint, entryIDs []string) error {
	if cp == nil || cp.Tenant == "" {
		return wal.ErrEmptyTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}

	saved := *cp
	d.checkpoints = append(d.checkpoints, &saved)

	for _, id := range entryIDs {
		if e, ok := d.entries[id]; ok && e.Tenant == cp.Tenant {
			cpID := cp.ID
			e.CheckpointID = &cpID
		}
	}
	return nil
}

func (d *Driver) LatestCheckpoint(_ context.Context, tenant, workerID string) (*wal.Checkpoint, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := len(d.checkpoints) - 1; i >= 0; i-- {
		cp := d.checkpoints[i]
		if cp.Tenant != tenant || (workerID != "" && cp.WorkerID != workerID) {
			continue
		}
		out := *cp
		return &out, nil
	}
	return nil, wal.ErrNoCheckpoint
}

// held returns the entry if it is processing and, when workerID is set, held
// by that worker.
func (d *Driver) held(tenant, id, workerID string) (*wal.Entry, bool) {
	e, ok := d.entries[id]
	if !ok || e.Tenant != tenant || e.Status != wal.StatusProcessing {
		return nil, false
	}
	if workerID != "" && (e.WorkerID == nil || *e.WorkerID != workerID) {
		return nil, false
	}
	return e, true
}

func (d *Driver) filter(tenant string, keep func(*wal.Entry) bool) []*wal.Entry {
	var out []*wal.Entry
	for _, e := range d.entries {
		if e.Tenant == tenant && keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func sortOldestFirst(entries []*wal.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

func cloneLimit(entries []*wal.Entry, limit int) []*wal.Entry {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*wal.Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

func copyMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
