// Package sqlite provides a SQLite-backed storage driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/memwal/pkg/storage/sqldriver"
)

// Dialect is the SQLite flavor of the shared SQL driver.
var Dialect = sqldriver.SQLiteDialect

// SQLiteDriver implements storage.Driver using SQLite.
type SQLiteDriver struct {
	*sqldriver.Driver
}

// NewSQLiteDriver creates a new SQLite-backed driver.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDriver(ctx context.Context, dbPath string, opts ...sqldriver.Option) (*SQLiteDriver, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps ":memory:" databases coherent and makes every
	// transaction in this process queue behind the previous one.
	db.SetMaxOpenConns(1)

	drv, err := sqldriver.New(ctx, db, Dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteDriver{Driver: drv}, nil
}

// dsn adds the pragmas the WAL needs: immediate transactions so two
// processes cannot both read the same pending rows before writing, a busy
// timeout so the loser waits instead of failing, and SQLite's own WAL journal.
func dsn(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return "file:" + path + "?" + params
}
