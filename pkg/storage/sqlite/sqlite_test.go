package sqlite_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/storage/sqldriver"
	"github.com/papercomputeco/memwal/pkg/storage/sqlite"
	"github.com/papercomputeco/memwal/pkg/storage/storagetest"
	"github.com/papercomputeco/memwal/pkg/wal"
)

var _ = storagetest.DescribeDriver("sqlite", func(clock *storagetest.Clock) storage.Driver {
	driver, err := sqlite.NewSQLiteDriver(context.Background(), ":memory:", sqldriver.WithClock(clock.Now))
	Expect(err).NotTo(HaveOccurred())
	return driver
})

var _ = Describe("SQLiteDriver", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("NewSQLiteDriver", func() {
		It("creates a driver with file database", func() {
			tmpDir := GinkgoT().TempDir()
			dbPath := filepath.Join(tmpDir, "test.db")

			s, err := sqlite.NewSQLiteDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			// Verify file was created
			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps entries across reopen", func() {
			dbPath := filepath.Join(GinkgoT().TempDir(), "wal.db")

			s, err := sqlite.NewSQLiteDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			id, _, err := s.Append(ctx, wal.AppendRequest{Tenant: "t", IdempotencyKey: "k1", Payload: []byte(`{}`)})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Close()).To(Succeed())

			reopened, err := sqlite.NewSQLiteDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer reopened.Close()

			e, err := reopened.Get(ctx, "t", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Status).To(Equal(wal.StatusPending))

			again, created, err := reopened.Append(ctx, wal.AppendRequest{Tenant: "t", IdempotencyKey: "k1", Payload: []byte(`{}`)})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(again).To(Equal(id))
		})

		It("serializes claims from two drivers on the same file", func() {
			dbPath := filepath.Join(GinkgoT().TempDir(), "shared.db")

			a, err := sqlite.NewSQLiteDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer a.Close()
			b, err := sqlite.NewSQLiteDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer b.Close()

			for _, k := range []string{"k1", "k2", "k3"} {
				_, _, err := a.Append(ctx, wal.AppendRequest{Tenant: "t", IdempotencyKey: k, Payload: []byte(`{}`)})
				Expect(err).NotTo(HaveOccurred())
			}

			first, err := a.Claim(ctx, wal.ClaimRequest{Tenant: "t", BatchSize: 2, WorkerID: "w1"})
			Expect(err).NotTo(HaveOccurred())
			second, err := b.Claim(ctx, wal.ClaimRequest{Tenant: "t", BatchSize: 2, WorkerID: "w2"})
			Expect(err).NotTo(HaveOccurred())

			Expect(first).To(HaveLen(2))
			Expect(second).To(HaveLen(1))
			Expect(second[0].ID).NotTo(BeElementOf(first[0].ID, first[1].ID))
		})
	})

	Describe("Claim", func() {
		It("does not return a row whose claim update matched nothing", func() {
			s, err := sqlite.NewSQLiteDriver(ctx, ":memory:")
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			first, _, err := s.Append(ctx, wal.AppendRequest{Tenant: "t", IdempotencyKey: "k1", Payload: []byte(`{}`)})
			Expect(err).NotTo(HaveOccurred())
			_, _, err = s.Append(ctx, wal.AppendRequest{Tenant: "t", IdempotencyKey: "k2", Payload: []byte(`{}`)})
			Expect(err).NotTo(HaveOccurred())

			_, err = s.DB.ExecContext(ctx, `CREATE TRIGGER skip_k2 BEFORE UPDATE OF status ON wal_entries
				WHEN OLD.idempotency_key = 'k2' BEGIN SELECT RAISE(IGNORE); END`)
			Expect(err).NotTo(HaveOccurred())

			claimed, err := s.Claim(ctx, wal.ClaimRequest{Tenant: "t", BatchSize: 10, WorkerID: "w1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(HaveLen(1))
			Expect(claimed[0].ID).To(Equal(first))

			stats, err := s.Stats(ctx, "t")
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Processing).To(Equal(1))
			Expect(stats.Pending).To(Equal(1))
		})
	})
})
