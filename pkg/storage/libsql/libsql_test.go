//go:build libsql

package libsql_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"

	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/storage/libsql"
	"github.com/papercomputeco/memwal/pkg/storage/sqldriver"
	"github.com/papercomputeco/memwal/pkg/storage/storagetest"
)

var _ = storagetest.DescribeDriver("libsql", func(clock *storagetest.Clock) storage.Driver {
	path := filepath.Join(GinkgoT().TempDir(), "memwal.db")
	driver, err := libsql.NewDriver(context.Background(), "file:"+path, sqldriver.WithClock(clock.Now))
	if err != nil {
		Fail("failed to open libsql database: " + err.Error())
	}
	return driver
})
