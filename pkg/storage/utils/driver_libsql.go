//go:build libsql

package storageutils

import (
	"context"

	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/storage/libsql"
	"github.com/papercomputeco/memwal/pkg/storage/sqldriver"
)

// Under the libsql tag the sqlite driver opens local files through libSQL,
// since mattn/go-sqlite3 cannot share the binary.
func openSQLite(ctx context.Context, path string, opts ...sqldriver.Option) (storage.Driver, error) {
	return libsql.NewDriver(ctx, "file:"+path, opts...)
}

func openLibSQL(ctx context.Context, url string, opts ...sqldriver.Option) (storage.Driver, error) {
	return libsql.NewDriver(ctx, url, opts...)
}
