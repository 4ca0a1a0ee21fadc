package sqldriver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/wal"
)

const entryColumns = `id, tenant, idempotency_key, payload, status, retry_count, last_error,
	worker_id, checkpoint_id, metadata, created_at, updated_at, available_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*wal.Entry, error) {
	var (
		e                               wal.Entry
		payload                         []byte
		status, meta                    string
		lastErr, workerID, checkpointID sql.NullString
		created, updated, available     int64
		processed                       sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.Tenant, &e.IdempotencyKey, &payload, &status, &e.RetryCount,
		&lastErr, &workerID, &checkpointID, &meta, &created, &updated, &available, &processed)
	if err != nil {
		return nil, err
	}

	if e.Status, err = wal.ParseStatus(status); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.CreatedAt = fromNanos(created)
	e.UpdatedAt = fromNanos(updated)
	e.AvailableAt = fromNanos(available)
	if processed.Valid {
		t := fromNanos(processed.Int64)
		e.ProcessedAt = &t
	}
	if lastErr.Valid {
		e.LastError = &lastErr.String
	}
	if workerID.Valid {
		e.WorkerID = &workerID.String
	}
	if checkpointID.Valid {
		e.CheckpointID = &checkpointID.String
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for entry %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func encodeMeta(meta map[string]any) (string, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func (d *Driver) Append(ctx context.Context, req wal.AppendRequest) (string, bool, error) {
	if err := req.Validate(); err != nil {
		return "", false, err
	}
	meta, err := encodeMeta(req.Metadata)
	if err != nil {
		return "", false, err
	}

	now := d.now()
	id := wal.NewEntryID(now)
	payload := req.Payload
	if payload == nil {
		payload = []byte{}
	}

	res, err := d.DB.ExecContext(ctx, d.q(`INSERT INTO wal_entries
		(id, tenant, idempotency_key, payload, status, retry_count, metadata, created_at, updated_at, available_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT (tenant, idempotency_key) DO NOTHING`),
		id, req.Tenant, req.IdempotencyKey, payload, wal.StatusPending.String(), meta,
		nanos(now), nanos(now), nanos(now))
	if err != nil {
		return "", false, fmt.Errorf("failed to append entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return id, true, nil
	}

	var existing string
	err = d.DB.QueryRowContext(ctx, d.q(`SELECT id FROM wal_entries WHERE tenant = ? AND idempotency_key = ?`),
		req.Tenant, req.IdempotencyKey).Scan(&existing)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve duplicate append: %w", err)
	}
	return existing, false, nil
}

func (d *Driver) Claim(ctx context.Context, req wal.ClaimRequest) ([]*wal.Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var claimed []*wal.Entry
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		now := d.now()
		rows, err := tx.QueryContext(ctx, d.q(`SELECT `+entryColumns+` FROM wal_entries
			WHERE tenant = ? AND status = ? AND available_at <= ?
			ORDER BY created_at, id`+limitClause(req.BatchSize)+` `+d.dialect.SkipLocked),
			req.Tenant, wal.StatusPending.String(), nanos(now))
		if err != nil {
			return fmt.Errorf("failed to select claimable entries: %w", err)
		}
		due, err := collectEntries(rows)
		if err != nil {
			return err
		}

		for _, e := range due {
			res, err := tx.ExecContext(ctx, d.q(`UPDATE wal_entries
				SET status = ?, worker_id = ?, updated_at = ?
				WHERE id = ? AND status = ?`),
				wal.StatusProcessing.String(), req.WorkerID, nanos(now), e.ID, wal.StatusPending.String())
			if err != nil {
				return fmt.Errorf("failed to claim entry %s: %w", e.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to claim entry %s: %w", e.ID, err)
			}
			if n != 1 {
				// Another claimer moved the row between select and update.
				continue
			}
			worker := req.WorkerID
			e.Status = wal.StatusProcessing
			e.WorkerID = &worker
			e.UpdatedAt = now
			claimed = append(claimed, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// lockHeld loads an entry for update and checks it is processing and, when
// workerID is set, held by that worker.
func (d *Driver) lockHeld(ctx context.Context, tx *sql.Tx, tenant, id, workerID string) (*wal.Entry, bool, error) {
	row := tx.QueryRowContext(ctx, d.q(`SELECT `+entryColumns+` FROM wal_entries
		WHERE tenant = ? AND id = ? `+d.dialect.ForUpdate), tenant, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load entry %s: %w", id, err)
	}
	if e.Status != wal.StatusProcessing {
		return e, false, nil
	}
	if workerID != "" && (e.WorkerID == nil || *e.WorkerID != workerID) {
		return e, false, nil
	}
	return e, true, nil
}

func (d *Driver) Complete(ctx context.Context, tenant, id, workerID string) (bool, error) {
	if tenant == "" {
		return false, wal.ErrEmptyTenant
	}

	var done bool
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		_, ok, err := d.lockHeld(ctx, tx, tenant, id, workerID)
		if err != nil || !ok {
			return err
		}
		now := nanos(d.now())
		if _, err := tx.ExecContext(ctx, d.q(`UPDATE wal_entries
			SET status = ?, updated_at = ?, processed_at = ?
			WHERE id = ?`), wal.StatusCompleted.String(), now, now, id); err != nil {
			return fmt.Errorf("failed to complete entry %s: %w", id, err)
		}
		done = true
		return nil
	})
	return done, err
}

func (d *Driver) Fail(ctx context.Context, req wal.FailRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}

	var done bool
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		e, ok, err := d.lockHeld(ctx, tx, req.Tenant, req.ID, req.WorkerID)
		if err != nil || !ok {
			return err
		}

		now := d.now()
		out := wal.ApplyFailure(e.RetryCount, req.MaxRetries, req.Class, now)

		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		e.Metadata[wal.MetaErrorClass] = req.Class.String()
		meta, err := encodeMeta(e.Metadata)
		if err != nil {
			return err
		}

		var processed, worker any
		if out.Terminal {
			processed = nanos(now)
			worker = e.WorkerID
		}
		if _, err := tx.ExecContext(ctx, d.q(`UPDATE wal_entries
			SET status = ?, retry_count = ?, last_error = ?, available_at = ?, updated_at = ?,
				processed_at = ?, worker_id = ?, metadata = ?
			WHERE id = ?`),
			out.Status.String(), out.RetryCount, req.Reason, nanos(out.AvailableAt), nanos(now),
			processed, nullable(worker), meta, req.ID); err != nil {
			return fmt.Errorf("failed to record failure for entry %s: %w", req.ID, err)
		}
		done = true
		return nil
	})
	return done, err
}

func (d *Driver) Release(ctx context.Context, tenant string, ids []string, workerID string) (int, error) {
	if tenant == "" {
		return 0, wal.ErrEmptyTenant
	}

	released := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		now := nanos(d.now())
		for _, id := range ids {
			_, ok, err := d.lockHeld(ctx, tx, tenant, id, workerID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, d.q(`UPDATE wal_entries
				SET status = ?, worker_id = NULL, available_at = ?, updated_at = ?
				WHERE id = ?`), wal.StatusPending.String(), now, now, id); err != nil {
				return fmt.Errorf("failed to release entry %s: %w", id, err)
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

func (d *Driver) Touch(ctx context.Context, tenant string, ids []string, workerID string) ([]string, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}
	if workerID == "" {
		return nil, wal.ErrEmptyWorker
	}

	var held []string
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		held = make([]string, 0, len(ids))
		now := nanos(d.now())
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, d.q(`UPDATE wal_entries SET updated_at = ?
				WHERE tenant = ? AND id = ? AND status = ? AND worker_id = ?`),
				now, tenant, id, wal.StatusProcessing.String(), workerID)
			if err != nil {
				return fmt.Errorf("failed to touch entry %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to touch entry %s: %w", id, err)
			}
			if n == 1 {
				held = append(held, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return held, nil
}

func (d *Driver) Reap(ctx context.Context, tenant string, staleAfter time.Duration) (int, error) {
	if tenant == "" {
		return 0, wal.ErrEmptyTenant
	}

	reaped := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		now := d.now()
		rows, err := tx.QueryContext(ctx, d.q(`SELECT `+entryColumns+` FROM wal_entries
			WHERE tenant = ? AND status = ? AND updated_at < ?
			ORDER BY created_at, id `+d.dialect.SkipLocked),
			tenant, wal.StatusProcessing.String(), nanos(now.Add(-staleAfter)))
		if err != nil {
			return fmt.Errorf("failed to select stale entries: %w", err)
		}
		stale, err := collectEntries(rows)
		if err != nil {
			return err
		}

		for _, e := range stale {
			var from string
			if e.WorkerID != nil {
				from = *e.WorkerID
			}
			e.Metadata = wal.CountMeta(e.Metadata, wal.MetaReapCount)
			e.Metadata[wal.MetaReapedFrom] = from
			meta, err := encodeMeta(e.Metadata)
			if err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, d.q(`UPDATE wal_entries
				SET status = ?, worker_id = NULL, last_error = ?, available_at = ?, updated_at = ?, metadata = ?
				WHERE id = ? AND status = ?`),
				wal.StatusPending.String(), wal.ReapNote(from), nanos(now), nanos(now), meta,
				e.ID, wal.StatusProcessing.String()); err != nil {
				return fmt.Errorf("failed to reap entry %s: %w", e.ID, err)
			}
			reaped++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reaped, nil
}

func (d *Driver) Get(ctx context.Context, tenant, id string) (*wal.Entry, error) {
	row := d.DB.QueryRowContext(ctx, d.q(`SELECT `+entryColumns+` FROM wal_entries
		WHERE tenant = ? AND id = ?`), tenant, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{Kind: storage.KindEntry, Tenant: tenant, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return e, nil
}

func (d *Driver) Stats(ctx context.Context, tenant string) (*wal.Stats, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}

	rows, err := d.DB.QueryContext(ctx, d.q(`SELECT status, COUNT(*) FROM wal_entries
		WHERE tenant = ? GROUP BY status`), tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	defer rows.Close()

	stats := &wal.Stats{}
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		status, err := wal.ParseStatus(name)
		if err != nil {
			return nil, err
		}
		stats.Add(status, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullInt64
	if err := d.DB.QueryRowContext(ctx, d.q(`SELECT MIN(created_at) FROM wal_entries
		WHERE tenant = ? AND status = ?`), tenant, wal.StatusPending.String()).Scan(&oldest); err != nil {
		return nil, fmt.Errorf("failed to find oldest pending entry: %w", err)
	}
	if oldest.Valid {
		t := fromNanos(oldest.Int64)
		stats.OldestPendingAt = &t
	}
	return stats, nil
}

func (d *Driver) Pending(ctx context.Context, tenant string, limit int) ([]*wal.Entry, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}
	rows, err := d.DB.QueryContext(ctx, d.q(`SELECT `+entryColumns+` FROM wal_entries
		WHERE tenant = ? AND status = ?
		ORDER BY created_at, id`+limitClause(limit)), tenant, wal.StatusPending.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	return collectEntries(rows)
}

func (d *Driver) Failed(ctx context.Context, tenant string, limit int) ([]*wal.Entry, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}
	rows, err := d.DB.QueryContext(ctx, d.q(`SELECT `+entryColumns+` FROM wal_entries
		WHERE tenant = ? AND status = ?
		ORDER BY processed_at DESC, id DESC`+limitClause(limit)), tenant, wal.StatusFailed.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list failed entries: %w", err)
	}
	return collectEntries(rows)
}

func (d *Driver) SaveCheckpoint(ctx context.Context, cp *wal.Checkpoint, entryIDs []string) error {
	if cp == nil || cp.Tenant == "" {
		return wal.ErrEmptyTenant
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, d.q(`INSERT INTO wal_checkpoints
			(id, tenant, worker_id, batch_size, watermark, processed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			cp.ID, cp.Tenant, cp.WorkerID, cp.BatchSize, cp.Watermark, cp.Processed, nanos(cp.CreatedAt)); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		for _, id := range entryIDs {
			if _, err := tx.ExecContext(ctx, d.q(`UPDATE wal_entries SET checkpoint_id = ?
				WHERE tenant = ? AND id = ?`), cp.ID, cp.Tenant, id); err != nil {
				return fmt.Errorf("failed to stamp checkpoint on entry %s: %w", id, err)
			}
		}
		return nil
	})
}

func (d *Driver) LatestCheckpoint(ctx context.Context, tenant, workerID string) (*wal.Checkpoint, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}

	query := `SELECT id, tenant, worker_id, batch_size, watermark, processed, created_at
		FROM wal_checkpoints WHERE tenant = ?`
	args := []any{tenant}
	if workerID != "" {
		query += ` AND worker_id = ?`
		args = append(args, workerID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	var (
		cp      wal.Checkpoint
		created int64
	)
	err := d.DB.QueryRowContext(ctx, d.q(query), args...).Scan(
		&cp.ID, &cp.Tenant, &cp.WorkerID, &cp.BatchSize, &cp.Watermark, &cp.Processed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wal.ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	cp.CreatedAt = fromNanos(created)
	return &cp, nil
}

func collectEntries(rows *sql.Rows) ([]*wal.Entry, error) {
	defer rows.Close()

	var out []*wal.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// nullable turns a nil *string into SQL NULL.
func nullable(v any) any {
	if s, ok := v.(*string); ok {
		if s == nil {
			return nil
		}
		return *s
	}
	return v
}
