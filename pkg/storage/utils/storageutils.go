// Package storageutils builds a storage.Driver from configuration.
package storageutils

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/papercomputeco/memwal/pkg/dotdir"
	"github.com/papercomputeco/memwal/pkg/logger"
	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/storage/inmemory"
	"github.com/papercomputeco/memwal/pkg/storage/postgres"
	"github.com/papercomputeco/memwal/pkg/storage/sqldriver"
)

type NewDriverOpts struct {
	// Driver is one of memory, sqlite, libsql or postgres.
	Driver string

	// SQLitePath defaults to memwal.sqlite in the resolved .memwal/ directory.
	SQLitePath  string
	PostgresDSN string
	LibSQLURL   string

	// ConfigDir overrides .memwal/ resolution for the default SQLite path.
	ConfigDir string

	Logger *slog.Logger
}

func NewDriver(ctx context.Context, o *NewDriverOpts) (storage.Driver, error) {
	log := o.Logger
	if log == nil {
		log = logger.Nop()
	}
	opts := []sqldriver.Option{sqldriver.WithLogger(log)}

	switch o.Driver {
	case "memory":
		log.Warn("using in-memory storage, the WAL will not survive a restart")
		return inmemory.NewDriver(), nil

	case "", "sqlite":
		path := o.SQLitePath
		if path == "" {
			dir, err := dotdir.NewManager().Init(o.ConfigDir)
			if err != nil {
				return nil, fmt.Errorf("resolving sqlite path: %w", err)
			}
			path = filepath.Join(dir, dotdir.DatabaseFile)
		}
		d, err := openSQLite(ctx, path, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
		}
		log.Info("using SQLite storage", "path", path)
		return d, nil

	case "libsql":
		if o.LibSQLURL == "" {
			return nil, fmt.Errorf("storage.libsql_url is required for the libsql driver")
		}
		d, err := openLibSQL(ctx, o.LibSQLURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening libsql: %w", err)
		}
		log.Info("using libSQL storage")
		return d, nil

	case "postgres":
		if o.PostgresDSN == "" {
			return nil, fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
		d, err := postgres.NewDriver(ctx, o.PostgresDSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		log.Info("using PostgreSQL storage")
		return d, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", o.Driver)
	}
}
