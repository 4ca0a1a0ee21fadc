// Package sqldriver implements storage.Driver over database/sql. The sqlite,
// libsql and postgres packages embed Driver and supply a Dialect carrying
// their schema and row-locking clauses.
package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/memwal/pkg/logger"
	"github.com/papercomputeco/memwal/pkg/storage"
)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	// Name is used in log lines and errors.
	Name string

	// Schema is executed statement by statement on open. Every statement must
	// be idempotent (CREATE ... IF NOT EXISTS).
	Schema []string

	// SkipLocked is appended to claim and reap selects. Postgres uses
	// "FOR UPDATE SKIP LOCKED"; SQLite relies on its database-level write
	// lock taken at BEGIN IMMEDIATE and leaves it empty.
	SkipLocked string

	// ForUpdate is appended to single-row read-modify-write selects.
	ForUpdate string

	// Numbered rewrites ? placeholders as $1, $2, ...
	Numbered bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock overrides the time source used for every timestamp the driver
// writes.
func WithClock(clock func() time.Time) Option {
	return func(d *Driver) {
		d.clock = clock
	}
}

// WithLogger sets the driver's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// Driver is the shared database/sql implementation.
type Driver struct {
	DB      *sql.DB
	dialect Dialect
	clock   func() time.Time
	logger  *slog.Logger
}

// New wraps an open database and applies the dialect's schema.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Driver, error) {
	d := &Driver{
		DB:      db,
		dialect: dialect,
		clock:   time.Now,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.migrate(ctx); err != nil {
		return nil, err
	}
	d.logger.Debug("storage ready", "dialect", dialect.Name)
	return d, nil
}

func (d *Driver) migrate(ctx context.Context) error {
	for _, stmt := range d.dialect.Schema {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s schema: %w", d.dialect.Name, err)
		}
	}
	return nil
}

// Ping reports whether the database is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.DB.Close()
}

func (d *Driver) now() time.Time {
	return d.clock().UTC()
}

// q rewrites placeholders for the dialect.
func (d *Driver) q(query string) string {
	if !d.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (d *Driver) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func limitClause(limit int) string {
	if limit > 0 {
		return " LIMIT " + strconv.Itoa(limit)
	}
	return ""
}

var _ storage.Driver = (*Driver)(nil)
