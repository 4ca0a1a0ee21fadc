//go:build !libsql

package storageutils_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	storageutils "github.com/papercomputeco/memwal/pkg/storage/utils"
)

var _ = Describe("NewDriver without libsql", func() {
	It("reports that the libsql driver needs the build tag", func() {
		_, err := storageutils.NewDriver(context.Background(), &storageutils.NewDriverOpts{
			Driver:    "libsql",
			LibSQLURL: "file:/tmp/memwal-libsql.db",
		})
		Expect(err).To(MatchError(storageutils.ErrLibSQLNotBuilt))
	})
})
