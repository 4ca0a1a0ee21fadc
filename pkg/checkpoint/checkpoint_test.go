package checkpoint_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memwal/pkg/checkpoint"
	"github.com/papercomputeco/memwal/pkg/storage/inmemory"
	"github.com/papercomputeco/memwal/pkg/wal"
)

type failingStore struct {
	*inmemory.Driver
	fail bool
}

func (s *failingStore) SaveCheckpoint(ctx context.Context, cp *wal.Checkpoint, ids []string) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Driver.SaveCheckpoint(ctx, cp, ids)
}

var _ = Describe("Manager", func() {
	var (
		ctx   context.Context
		store *inmemory.Driver
		ids   []string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		ids = nil
		for i := range 5 {
			id, _, err := store.Append(ctx, wal.AppendRequest{Tenant: "t", IdempotencyKey: fmt.Sprintf("k%d", i)})
			Expect(err).NotTo(HaveOccurred())
			ids = append(ids, id)
		}
	})

	newManager := func(s wal.Store, interval int) *checkpoint.Manager {
		m, err := checkpoint.NewManager(checkpoint.Config{
			Store:    s,
			Tenant:   "t",
			WorkerID: "w1",
			Interval: interval,
			Clock:    func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
		})
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	It("writes a checkpoint every interval entries", func() {
		m := newManager(store, 2)

		cp, err := m.Finalized(ctx, ids[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(cp).To(BeNil())

		cp, err = m.Finalized(ctx, ids[1])
		Expect(err).NotTo(HaveOccurred())
		Expect(cp).NotTo(BeNil())
		Expect(cp.BatchSize).To(Equal(2))
		Expect(cp.Watermark).To(Equal(ids[1]))
		Expect(cp.Processed).To(Equal(int64(2)))

		latest, err := store.LatestCheckpoint(ctx, "t", "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.ID).To(Equal(cp.ID))

		e, err := store.Get(ctx, "t", ids[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(e.CheckpointID).To(HaveValue(Equal(cp.ID)))
	})

	It("flushes a partial batch and accumulates processed", func() {
		m := newManager(store, 2)
		for _, id := range ids[:3] {
			_, err := m.Finalized(ctx, id)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(m.Pending()).To(Equal(1))

		cp, err := m.Flush(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cp.BatchSize).To(Equal(1))
		Expect(cp.Processed).To(Equal(int64(3)))
		Expect(m.Pending()).To(Equal(0))

		cp, err = m.Flush(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cp).To(BeNil())
	})

	It("keeps the batch when the store fails", func() {
		fs := &failingStore{Driver: store, fail: true}
		m := newManager(fs, 1)

		_, err := m.Finalized(ctx, ids[0])
		Expect(err).To(MatchError(ContainSubstring("disk full")))
		Expect(m.Pending()).To(Equal(1))

		fs.fail = false
		cp, err := m.Flush(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cp.BatchSize).To(Equal(1))
		Expect(m.Processed()).To(Equal(int64(1)))
	})

	It("applies a changed interval without dropping counted entries", func() {
		m := newManager(store, 3)
		cp, err := m.Finalized(ctx, ids[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(cp).To(BeNil())

		m.SetInterval(2)
		Expect(m.Interval()).To(Equal(2))
		cp, err = m.Finalized(ctx, ids[1])
		Expect(err).NotTo(HaveOccurred())
		Expect(cp).NotTo(BeNil())
		Expect(cp.BatchSize).To(Equal(2))
		Expect(cp.Processed).To(Equal(int64(2)))

		m.SetInterval(0)
		Expect(m.Interval()).To(Equal(checkpoint.DefaultInterval))
	})

	It("orders checkpoints that share a timestamp", func() {
		m := newManager(store, 1)
		var last *wal.Checkpoint
		for _, id := range ids[:3] {
			cp, err := m.Finalized(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			last = cp
		}

		latest, err := store.LatestCheckpoint(ctx, "t", "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.ID).To(Equal(last.ID))
		Expect(latest.Processed).To(Equal(int64(3)))
	})

	It("defaults the interval", func() {
		m := newManager(store, 0)
		for _, id := range ids {
			cp, err := m.Finalized(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(cp).To(BeNil())
		}
	})

	It("rejects an empty tenant", func() {
		_, err := checkpoint.NewManager(checkpoint.Config{Store: store, WorkerID: "w1"})
		Expect(err).To(MatchError(wal.ErrEmptyTenant))
	})
})
