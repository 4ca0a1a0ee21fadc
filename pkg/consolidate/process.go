package consolidate

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/memwal/pkg/extraction"
	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/wal"
)

// consolidate folds one entry into the tenant's memory records. Every step
// is idempotent per entry, so a retried or reaped entry converges to the
// same record state.
func (w *Worker) consolidate(ctx context.Context, tenant string, set TenantSettings, e *wal.Entry) error {
	in, err := extraction.DecodeInteraction(e.Payload)
	if err != nil {
		return err
	}

	res, err := w.extractor.Extract(ctx, extraction.Request{
		Tenant:      tenant,
		EntryID:     e.ID,
		Interaction: in,
	})
	if err != nil {
		return fmt.Errorf("extracting entities: %w", err)
	}
	if res == nil {
		res = &extraction.Result{}
	}

	touched := make(map[string]*memory.Record, len(res.Entities))
	for _, ent := range res.Entities {
		key := memory.NormalizeKey(ent.Name)
		if key == "" {
			continue
		}
		content := ent.Summary
		if content == "" {
			content = in.Content
		}
		obs := memory.Observation{
			Tenant:       tenant,
			Key:          key,
			EntryID:      e.ID,
			Label:        strings.TrimSpace(ent.Name),
			Kind:         ent.Kind,
			Content:      content,
			At:           e.CreatedAt,
			Utility:      memory.Clamp01(ent.Utility),
			Confidence:   memory.Clamp01(res.Confidence),
			DefaultScore: set.DefaultScore,
		}
		rec, err := withRetry(ctx, w.retry, func() (*memory.Record, error) {
			rec, _, err := w.store.Observe(ctx, obs)
			return rec, err
		})
		if err != nil {
			return fmt.Errorf("observing %q: %w", key, err)
		}
		touched[key] = rec
	}

	for _, rel := range res.Relationships {
		link := memory.Link{
			Tenant:    tenant,
			FromKey:   memory.NormalizeKey(rel.From),
			ToKey:     memory.NormalizeKey(rel.To),
			Rel:       strings.TrimSpace(rel.Rel),
			EntryID:   e.ID,
			CreatedAt: e.CreatedAt,
		}
		if link.FromKey == "" || link.ToKey == "" || link.Rel == "" {
			w.logger.Debug("skipping incomplete relationship", "tenant", tenant, "entry_id", e.ID)
			continue
		}
		if _, err := withRetry(ctx, w.retry, func() (struct{}, error) {
			return struct{}{}, w.store.Link(ctx, link)
		}); err != nil {
			return fmt.Errorf("linking %q -> %q: %w", link.FromKey, link.ToKey, err)
		}
	}

	if set.Scorer == nil {
		return nil
	}
	now := w.clock()
	for _, key := range slices.Sorted(maps.Keys(touched)) {
		if err := w.rescore(ctx, tenant, touched[key], set.Scorer.Score(touched[key], now), now); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) rescore(ctx context.Context, tenant string, rec *memory.Record, score float64, now time.Time) error {
	_, err := withRetry(ctx, w.retry, func() (struct{}, error) {
		return struct{}{}, w.store.SetSalience(ctx, tenant, rec.Key, score, now)
	})
	if err != nil {
		return fmt.Errorf("updating salience of %q: %w", rec.Key, err)
	}
	rec.SalienceScore = score
	return nil
}

// sweep rescans records old enough to archive. New records never qualify,
// so the sweep is what eventually demotes memories that stopped being
// observed. It runs after every non-empty batch and at most once per poll
// interval otherwise.
func (w *Worker) sweep(ctx context.Context, tenant string, set TenantSettings, busy bool) {
	if w.archiver == nil || set.Scorer == nil {
		return
	}
	now := w.clock()
	if last, ok := w.lastSweep[tenant]; ok && !busy && now.Sub(last) < w.poll {
		return
	}
	w.lastSweep[tenant] = now

	cutoff := now.Add(-set.Scorer.Config().MinAge)
	candidates, err := withRetry(ctx, w.retry, func() ([]*memory.Record, error) {
		return w.store.ArchiveCandidates(ctx, tenant, cutoff, w.sweepLimit)
	})
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("failed to list archive candidates", "tenant", tenant, "error", err)
		}
		return
	}

	archived := 0
	for _, rec := range candidates {
		if w.stopping(ctx) {
			break
		}
		d := set.Scorer.Decide(rec, now)
		if d.Score != rec.SalienceScore {
			if err := w.rescore(ctx, tenant, rec, d.Score, now); err != nil {
				w.logger.Warn("failed to rescore record", "tenant", tenant, "key", rec.Key, "error", err)
				continue
			}
		}
		if !d.Archive {
			continue
		}

		ok, err := w.archiver.Archive(ctx, rec, now)
		if err != nil {
			w.logger.Warn("failed to archive record", "tenant", tenant, "key", rec.Key, "error", err)
			continue
		}
		if ok {
			archived++
			w.metrics.IncArchived(tenant)
		}
	}

	if archived > 0 {
		w.logger.Info("archived low-salience records",
			"tenant", tenant,
			"count", archived,
			"scanned", len(candidates),
		)
	}
}
