//go:build !libsql

package storageutils

import (
	"context"
	"errors"

	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/storage/sqldriver"
	"github.com/papercomputeco/memwal/pkg/storage/sqlite"
)

// ErrLibSQLNotBuilt is returned for the libsql driver in binaries built
// without -tags libsql.
var ErrLibSQLNotBuilt = errors.New("libsql support is not compiled in, rebuild with -tags libsql")

func openSQLite(ctx context.Context, path string, opts ...sqldriver.Option) (storage.Driver, error) {
	return sqlite.NewSQLiteDriver(ctx, path, opts...)
}

func openLibSQL(context.Context, string, ...sqldriver.Option) (storage.Driver, error) {
	return nil, ErrLibSQLNotBuilt
}
