//go:build libsql

package libsql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/papercomputeco/memwal/pkg/storage/sqldriver"
)

// Driver implements storage.Driver using libSQL.
type Driver struct {
	*sqldriver.Driver
}

// NewDriver opens a libSQL database. url is either a local "file:" path or a
// remote "libsql://" database URL with its auth token in the query string.
func NewDriver(ctx context.Context, url string, opts ...sqldriver.Option) (*Driver, error) {
	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	dialect := sqldriver.SQLiteDialect
	dialect.Name = "libsql"

	drv, err := sqldriver.New(ctx, db, dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Driver{Driver: drv}, nil
}
