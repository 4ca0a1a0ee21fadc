package wal_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memwal/pkg/wal"
)

var _ = Describe("Status", func() {
	DescribeTable("transitions",
		func(from, to wal.Status, legal bool) {
			Expect(from.CanTransition(to)).To(Equal(legal))
		},
		Entry("pending to processing", wal.StatusPending, wal.StatusProcessing, true),
		Entry("pending to completed", wal.StatusPending, wal.StatusCompleted, false),
		Entry("processing to completed", wal.StatusProcessing, wal.StatusCompleted, true),
		Entry("processing back to pending", wal.StatusProcessing, wal.StatusPending, true),
		Entry("processing to failed", wal.StatusProcessing, wal.StatusFailed, true),
		Entry("completed is terminal", wal.StatusCompleted, wal.StatusPending, false),
		Entry("failed is terminal", wal.StatusFailed, wal.StatusProcessing, false),
	)

	It("marks only completed and failed as terminal", func() {
		Expect(wal.StatusCompleted.Terminal()).To(BeTrue())
		Expect(wal.StatusFailed.Terminal()).To(BeTrue())
		Expect(wal.StatusPending.Terminal()).To(BeFalse())
		Expect(wal.StatusProcessing.Terminal()).To(BeFalse())
	})

	It("parses its own names", func() {
		for _, s := range []wal.Status{wal.StatusPending, wal.StatusProcessing, wal.StatusCompleted, wal.StatusFailed} {
			parsed, err := wal.ParseStatus(s.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(s))
		}
		_, err := wal.ParseStatus("archived")
		Expect(err).To(HaveOccurred())
	})

	It("serializes as its name and refuses invalid values", func() {
		data, err := json.Marshal(wal.StatusFailed)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`"failed"`))

		_, err = json.Marshal(wal.Status(0))
		Expect(err).To(HaveOccurred())

		var s wal.Status
		Expect(json.Unmarshal([]byte(`"bogus"`), &s)).NotTo(Succeed())
	})
})

var _ = Describe("RetryDelay", func() {
	It("follows the 30s, 5m, 15m schedule and then stays at 15m", func() {
		Expect(wal.RetryDelay(0)).To(BeZero())
		Expect(wal.RetryDelay(1)).To(Equal(30 * time.Second))
		Expect(wal.RetryDelay(2)).To(Equal(5 * time.Minute))
		Expect(wal.RetryDelay(3)).To(Equal(15 * time.Minute))
		Expect(wal.RetryDelay(7)).To(Equal(15 * time.Minute))
	})
})

var _ = Describe("ApplyFailure", func() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	It("requeues a transient failure with budget left", func() {
		out := wal.ApplyFailure(0, 3, wal.Transient, now)
		Expect(out.Status).To(Equal(wal.StatusPending))
		Expect(out.RetryCount).To(Equal(1))
		Expect(out.AvailableAt).To(Equal(now.Add(30 * time.Second)))
		Expect(out.Terminal).To(BeFalse())
	})

	It("dead-letters once the budget is spent without counting the final attempt", func() {
		out := wal.ApplyFailure(2, 2, wal.Transient, now)
		Expect(out.Status).To(Equal(wal.StatusFailed))
		Expect(out.RetryCount).To(Equal(2))
		Expect(out.Terminal).To(BeTrue())
	})

	It("dead-letters a permanent failure immediately", func() {
		out := wal.ApplyFailure(0, 3, wal.Permanent, now)
		Expect(out.Status).To(Equal(wal.StatusFailed))
		Expect(out.RetryCount).To(BeZero())
		Expect(out.Terminal).To(BeTrue())
	})

	It("dead-letters on the first failure when retries are disabled", func() {
		out := wal.ApplyFailure(0, 0, wal.Transient, now)
		Expect(out.Status).To(Equal(wal.StatusFailed))
	})
})

var _ = Describe("error classes", func() {
	It("classifies wrapped errors", func() {
		err := fmt.Errorf("extracting: %w", wal.PermanentError(errors.New("bad json")))
		Expect(wal.ClassOf(err)).To(Equal(wal.Permanent))
		Expect(err.Error()).To(ContainSubstring("permanent: bad json"))
	})

	It("treats unclassified errors as transient", func() {
		Expect(wal.ClassOf(errors.New("connection reset"))).To(Equal(wal.Transient))
	})

	It("unwraps to the cause", func() {
		cause := errors.New("timeout")
		Expect(errors.Is(wal.TransientError(cause), cause)).To(BeTrue())
	})

	It("passes nil through", func() {
		Expect(wal.PermanentError(nil)).To(BeNil())
		Expect(wal.TransientError(nil)).To(BeNil())
	})
})

var _ = Describe("IdempotencyKey", func() {
	at := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)

	It("is stable within a time bucket", func() {
		a := wal.IdempotencyKey("acme", "alice", "email", "hi", at, time.Minute)
		b := wal.IdempotencyKey("acme", "alice", "email", " hi ", at.Add(30*time.Second), time.Minute)
		Expect(a).To(Equal(b))
		Expect(a).To(HaveLen(64))
	})

	It("differs across buckets, tenants and actors", func() {
		base := wal.IdempotencyKey("acme", "alice", "email", "hi", at, time.Minute)
		Expect(wal.IdempotencyKey("acme", "alice", "email", "hi", at.Add(time.Minute), time.Minute)).NotTo(Equal(base))
		Expect(wal.IdempotencyKey("globex", "alice", "email", "hi", at, time.Minute)).NotTo(Equal(base))
		Expect(wal.IdempotencyKey("acme", "bob", "email", "hi", at, time.Minute)).NotTo(Equal(base))
	})

	It("does not let fields bleed into each other", func() {
		Expect(wal.IdempotencyKey("ab", "c", "", "", at, 0)).
			NotTo(Equal(wal.IdempotencyKey("a", "bc", "", "", at, 0)))
	})
})

var _ = Describe("NewEntryID", func() {
	It("sorts by creation time", func() {
		t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		first := wal.NewEntryID(t0)
		second := wal.NewEntryID(t0.Add(time.Millisecond))
		Expect(first < second).To(BeTrue())
	})

	It("is monotonic within the same millisecond", func() {
		t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		a, b := wal.NewEntryID(t0), wal.NewEntryID(t0)
		Expect(a).NotTo(Equal(b))
		Expect(a < b).To(BeTrue())
	})
})

var _ = Describe("request validation", func() {
	It("requires a tenant and key to append", func() {
		Expect(wal.AppendRequest{IdempotencyKey: "k"}.Validate()).To(MatchError(wal.ErrEmptyTenant))
		Expect(wal.AppendRequest{Tenant: "acme"}.Validate()).To(MatchError(wal.ErrEmptyKey))
		Expect(wal.AppendRequest{Tenant: "acme", IdempotencyKey: "k"}.Validate()).To(Succeed())
	})

	It("requires a positive batch and a worker to claim", func() {
		Expect(wal.ClaimRequest{Tenant: "acme", WorkerID: "w"}.Validate()).To(MatchError(wal.ErrInvalidBatchSize))
		Expect(wal.ClaimRequest{Tenant: "acme", BatchSize: 1}.Validate()).To(MatchError(wal.ErrEmptyWorker))
	})

	It("rejects a negative retry budget", func() {
		req := wal.FailRequest{Tenant: "acme", ID: "x", MaxRetries: -1}
		Expect(req.Validate()).To(MatchError(wal.ErrInvalidMaxRetries))
	})
})

var _ = Describe("metadata helpers", func() {
	It("counts across JSON number types", func() {
		meta := wal.CountMeta(nil, wal.MetaReapCount)
		Expect(meta[wal.MetaReapCount]).To(Equal(int64(1)))

		meta[wal.MetaReapCount] = float64(4)
		meta = wal.CountMeta(meta, wal.MetaReapCount)
		Expect(meta[wal.MetaReapCount]).To(Equal(int64(5)))
	})

	It("names the worker in the reap note", func() {
		Expect(wal.ReapNote("w-1")).To(ContainSubstring(`"w-1"`))
	})

	It("counts stats by status", func() {
		var s wal.Stats
		s.Add(wal.StatusPending, 2)
		s.Add(wal.StatusFailed, 1)
		Expect(s.Pending).To(Equal(2))
		Expect(s.Failed).To(Equal(1))
		Expect(s.Total).To(Equal(3))
	})
})
