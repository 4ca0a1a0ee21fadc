package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/wal"
)

const recordColumns = `id, tenant, record_key, label, kind, content, salience_score, last_accessed_at,
	access_count, utility, confidence, is_archived, archive_ref, created_at, updated_at`

func scanRecord(row rowScanner) (*memory.Record, error) {
	var (
		r                              memory.Record
		lastAccessed, created, updated int64
		archiveRef                     sql.NullString
	)
	err := row.Scan(&r.ID, &r.Tenant, &r.Key, &r.Label, &r.Kind, &r.Content, &r.SalienceScore,
		&lastAccessed, &r.AccessCount, &r.Utility, &r.Confidence, &r.IsArchived, &archiveRef,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	r.LastAccessedAt = fromNanos(lastAccessed)
	r.CreatedAt = fromNanos(created)
	r.UpdatedAt = fromNanos(updated)
	r.ArchiveRef = archiveRef.String
	return &r, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *Driver) loadRecord(ctx context.Context, q querier, tenant, key, suffix string) (*memory.Record, error) {
	row := q.QueryRowContext(ctx, d.q(`SELECT `+recordColumns+` FROM memory_records
		WHERE tenant = ? AND record_key = ? `+suffix), tenant, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{Kind: storage.KindRecord, Tenant: tenant, ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", key, err)
	}
	return rec, nil
}

func (d *Driver) Observe(ctx context.Context, obs memory.Observation) (*memory.Record, bool, error) {
	if obs.Tenant == "" {
		return nil, false, wal.ErrEmptyTenant
	}
	if obs.Key == "" {
		return nil, false, wal.ErrEmptyKey
	}

	var (
		out     *memory.Record
		applied bool
	)
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		now := d.now()

		res, err := tx.ExecContext(ctx, d.q(`INSERT INTO memory_observations
			(tenant, record_key, entry_id, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (tenant, record_key, entry_id) DO NOTHING`),
			obs.Tenant, obs.Key, obs.EntryID, nanos(now))
		if err != nil {
			return fmt.Errorf("failed to record observation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			out, err = d.loadRecord(ctx, tx, obs.Tenant, obs.Key, "")
			return err
		}

		rec, err := d.loadRecord(ctx, tx, obs.Tenant, obs.Key, d.dialect.ForUpdate)
		var nf storage.NotFoundError
		switch {
		case errors.As(err, &nf):
			rec = memory.NewRecord(uuid.NewString(), obs, now)
			inserted, err := d.insertRecord(ctx, tx, rec)
			if err != nil {
				return err
			}
			if inserted {
				out, applied = rec, true
				return nil
			}
			// Lost a race to create the record; fold into the winner's row.
			if rec, err = d.loadRecord(ctx, tx, obs.Tenant, obs.Key, d.dialect.ForUpdate); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		memory.Apply(rec, obs)
		rec.UpdatedAt = now
		if err := d.updateRecord(ctx, tx, rec); err != nil {
			return err
		}
		out, applied = rec, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

func (d *Driver) insertRecord(ctx context.Context, tx *sql.Tx, r *memory.Record) (bool, error) {
	res, err := tx.ExecContext(ctx, d.q(`INSERT INTO memory_records
		(`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant, record_key) DO NOTHING`),
		r.ID, r.Tenant, r.Key, r.Label, r.Kind, r.Content, r.SalienceScore, nanos(r.LastAccessedAt),
		r.AccessCount, r.Utility, r.Confidence, r.IsArchived, r.ArchiveRef, nanos(r.CreatedAt), nanos(r.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert record %s: %w", r.Key, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (d *Driver) updateRecord(ctx context.Context, tx *sql.Tx, r *memory.Record) error {
	_, err := tx.ExecContext(ctx, d.q(`UPDATE memory_records
		SET label = ?, kind = ?, content = ?, last_accessed_at = ?, access_count = ?,
			utility = ?, confidence = ?, updated_at = ?
		WHERE tenant = ? AND record_key = ?`),
		r.Label, r.Kind, r.Content, nanos(r.LastAccessedAt), r.AccessCount,
		r.Utility, r.Confidence, nanos(r.UpdatedAt), r.Tenant, r.Key)
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", r.Key, err)
	}
	return nil
}

func (d *Driver) GetRecord(ctx context.Context, tenant, key string) (*memory.Record, error) {
	return d.loadRecord(ctx, d.DB, tenant, key, "")
}

func (d *Driver) SetSalience(ctx context.Context, tenant, key string, score float64, at time.Time) error {
	if err := memory.ValidateScore(score); err != nil {
		return err
	}
	res, err := d.DB.ExecContext(ctx, d.q(`UPDATE memory_records SET salience_score = ?, updated_at = ?
		WHERE tenant = ? AND record_key = ?`), score, nanos(at), tenant, key)
	if err != nil {
		return fmt.Errorf("failed to set salience for %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.NotFoundError{Kind: storage.KindRecord, Tenant: tenant, ID: key}
	}
	return nil
}

func (d *Driver) Link(ctx context.Context, link memory.Link) error {
	if link.Tenant == "" {
		return wal.ErrEmptyTenant
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = d.now()
	}
	_, err := d.DB.ExecContext(ctx, d.q(`INSERT INTO memory_links
		(tenant, from_key, to_key, rel, entry_id, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant, from_key, to_key, rel) DO NOTHING`),
		link.Tenant, link.FromKey, link.ToKey, link.Rel, link.EntryID, nanos(link.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to store link %s -> %s: %w", link.FromKey, link.ToKey, err)
	}
	return nil
}

func (d *Driver) Links(ctx context.Context, tenant, key string) ([]memory.Link, error) {
	rows, err := d.DB.QueryContext(ctx, d.q(`SELECT tenant, from_key, to_key, rel, entry_id, created_at
		FROM memory_links WHERE tenant = ? AND from_key = ?
		ORDER BY created_at, to_key, rel`), tenant, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list links for %s: %w", key, err)
	}
	defer rows.Close()

	var out []memory.Link
	for rows.Next() {
		var (
			l       memory.Link
			created int64
		)
		if err := rows.Scan(&l.Tenant, &l.FromKey, &l.ToKey, &l.Rel, &l.EntryID, &created); err != nil {
			return nil, err
		}
		l.CreatedAt = fromNanos(created)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (d *Driver) MarkArchived(ctx context.Context, tenant, key, summary, ref string, at time.Time) (bool, error) {
	res, err := d.DB.ExecContext(ctx, d.q(`UPDATE memory_records
		SET is_archived = ?, content = ?, archive_ref = ?, updated_at = ?
		WHERE tenant = ? AND record_key = ? AND is_archived = ?`),
		true, summary, ref, nanos(at), tenant, key, false)
	if err != nil {
		return false, fmt.Errorf("failed to archive record %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	// Distinguish "already archived" from "missing".
	if _, err := d.loadRecord(ctx, d.DB, tenant, key, ""); err != nil {
		return false, err
	}
	return false, nil
}

func (d *Driver) ArchiveCandidates(ctx context.Context, tenant string, cutoff time.Time, limit int) ([]*memory.Record, error) {
	if tenant == "" {
		return nil, wal.ErrEmptyTenant
	}
	rows, err := d.DB.QueryContext(ctx, d.q(`SELECT `+recordColumns+` FROM memory_records
		WHERE tenant = ? AND is_archived = ? AND created_at <= ?
		ORDER BY salience_score, record_key`+limitClause(limit)), tenant, false, nanos(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list archive candidates: %w", err)
	}
	defer rows.Close()

	var out []*memory.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
