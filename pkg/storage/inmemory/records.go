package inmemory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/wal"
)

func (d *Driver) Observe(_ context.Context, obs memory.Observation) (*memory.Record, bool, error) {
	if obs.Tenant == "" {
		return nil, false, wal.ErrEmptyTenant
	}
	if obs.Key == "" {
		return nil, false, wal.ErrEmptyKey
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, false, errClosed
	}

	tk := tenantKey{tenant: obs.Tenant, key: obs.Key}
	obsK := observationKey{tenant: obs.Tenant, key: obs.Key, entryID: obs.EntryID}
	rec, exists := d.records[tk]

	if _, seen := d.observations[obsK]; seen && exists {
		return rec.Clone(), false, nil
	}

	now := d.now()
	if !exists {
		rec = memory.NewRecord(uuid.NewString(), obs, now)
		d.records[tk] = rec
	} else {
		memory.Apply(rec, obs)
		rec.UpdatedAt = now
	}
	d.observations[obsK] = struct{}{}

	return rec.Clone(), true, nil
}

func (d *Driver) GetRecord(_ context.Context, tenant, key string) (*memory.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[tenantKey{tenant: tenant, key: key}]
	if !ok {
		return nil, storage.NotFoundError{Kind: storage.KindRecord, Tenant: tenant, ID: key}
	}
	return rec.Clone(), nil
}

func (d *Driver) SetSalience(_ context.Context, tenant, key string, score float64, at time.Time) error {
	if err := memory.ValidateScore(score); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[tenantKey{tenant: tenant, key: key}]
	if !ok {
		return storage.NotFoundError{Kind: storage.KindRecord, Tenant: tenant, ID: key}
	}
	rec.SalienceScore = score
	rec.UpdatedAt = at.UTC()
	return nil
}

func (d *Driver) Link(_ context.Context, link memory.Link) error {
	if link.Tenant == "" {
		return wal.ErrEmptyTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	lk := linkKey{tenant: link.Tenant, from: link.FromKey, to: link.ToKey, rel: link.Rel}
	if _, ok := d.links[lk]; ok {
		return nil
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = d.now()
	}
	d.links[lk] = link
	d.linkOrder = append(d.linkOrder, lk)
	return nil
}

func (d *Driver) Links(_ context.Context, tenant, key string) ([]memory.Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []memory.Link
	for _, lk := range d.linkOrder {
		if lk.tenant == tenant && lk.from == key {
			out = append(out, d.links[lk])
		}
	}
	return out, nil
}

func (d *Driver) MarkArchived(_ context.Context, tenant, key, summary, ref string, at time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[tenantKey{tenant: tenant, key: key}]
	if !ok {
		return false, storage.NotFoundError{Kind: storage.KindRecord, Tenant: tenant, ID: key}
	}
	if rec.IsArchived {
		return false, nil
	}
	rec.IsArchived = true
	rec.Content = summary
	rec.ArchiveRef = ref
	rec.UpdatedAt = at.UTC()
	return true, nil
}

func (d *Driver) ArchiveCandidates(_ context.Context, tenant string, cutoff time.Time, limit int) ([]*memory.Record, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*memory.Record
	for tk, rec := range d.records {
		if tk.tenant == tenant && !rec.IsArchived && !rec.CreatedAt.After(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SalienceScore != out[j].SalienceScore {
			return out[i].SalienceScore < out[j].SalienceScore
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
