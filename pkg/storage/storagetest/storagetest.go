package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/wal"
)

// Factory builds a fresh, empty driver that reads time from clock.
type Factory func(clock *Clock) storage.Driver

const tenant = "tenant-a"

// Epoch is the fake start time used by every conformance test.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func appendEntry(ctx context.Context, d storage.Driver, t, key string) string {
	id, created, err := d.Append(ctx, wal.AppendRequest{
		Tenant:         t,
		IdempotencyKey: key,
		Payload:        []byte(`{"msg":"hi"}`),
	})
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	ExpectWithOffset(1, created).To(BeTrue())
	return id
}

func claim(ctx context.Context, d storage.Driver, n int, worker string) []*wal.Entry {
	entries, err := d.Claim(ctx, wal.ClaimRequest{Tenant: tenant, BatchSize: n, WorkerID: worker})
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return entries
}

func ids(entries []*wal.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// DescribeDriver registers the shared WAL and record store specs.
func DescribeDriver(name string, newDriver Factory) bool {
	return Describe(name+" conformance", func() {
		var (
			ctx    context.Context
			clock  *Clock
			driver storage.Driver
		)

		BeforeEach(func() {
			ctx = context.Background()
			clock = NewClock(Epoch)
			driver = newDriver(clock)
		})

		AfterEach(func() {
			if driver != nil {
				Expect(driver.Close()).To(Succeed())
			}
		})

		Describe("Append", func() {
			It("creates a pending entry", func() {
				id := appendEntry(ctx, driver, tenant, "k1")

				e, err := driver.Get(ctx, tenant, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(wal.StatusPending))
				Expect(e.RetryCount).To(Equal(0))
				Expect(e.WorkerID).To(BeNil())
				Expect(e.ProcessedAt).To(BeNil())
				Expect(e.CreatedAt).To(BeTemporally("==", Epoch))
				Expect(e.Payload).To(MatchJSON(`{"msg":"hi"}`))
			})

			It("returns the existing id for a duplicate key", func() {
				first := appendEntry(ctx, driver, tenant, "k1")

				second, created, err := driver.Append(ctx, wal.AppendRequest{
					Tenant:         tenant,
					IdempotencyKey: "k1",
					Payload:        []byte(`{"msg":"different"}`),
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(created).To(BeFalse())
				Expect(second).To(Equal(first))

				stats, err := driver.Stats(ctx, tenant)
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.Total).To(Equal(1))

				e, err := driver.Get(ctx, tenant, first)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Payload).To(MatchJSON(`{"msg":"hi"}`))
			})

			It("scopes idempotency keys to the tenant", func() {
				a := appendEntry(ctx, driver, tenant, "k1")
				b := appendEntry(ctx, driver, "tenant-b", "k1")
				Expect(a).NotTo(Equal(b))

				_, err := driver.Get(ctx, "tenant-b", a)
				Expect(errors.Is(err, wal.ErrNotFound)).To(BeTrue())
			})

			It("rejects an empty tenant", func() {
				_, _, err := driver.Append(ctx, wal.AppendRequest{IdempotencyKey: "k1"})
				Expect(err).To(MatchError(wal.ErrEmptyTenant))
			})

			It("keeps metadata", func() {
				id, _, err := driver.Append(ctx, wal.AppendRequest{
					Tenant:         tenant,
					IdempotencyKey: "k1",
					Payload:        []byte(`{}`),
					Metadata:       map[string]any{"source": "slack"},
				})
				Expect(err).NotTo(HaveOccurred())

				e, err := driver.Get(ctx, tenant, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Metadata).To(HaveKeyWithValue("source", "slack"))
			})
		})

		Describe("Claim", func() {
			It("claims oldest first and marks entries processing", func() {
				first := appendEntry(ctx, driver, tenant, "k1")
				clock.Advance(time.Second)
				second := appendEntry(ctx, driver, tenant, "k2")
				clock.Advance(time.Second)
				appendEntry(ctx, driver, tenant, "k3")

				entries := claim(ctx, driver, 2, "w1")
				Expect(ids(entries)).To(Equal([]string{first, second}))
				for _, e := range entries {
					Expect(e.Status).To(Equal(wal.StatusProcessing))
					Expect(e.WorkerID).To(HaveValue(Equal("w1")))
				}

				stats, err := driver.Stats(ctx, tenant)
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.Processing).To(Equal(2))
				Expect(stats.Pending).To(Equal(1))
			})

			It("returns nothing when no entry is pending", func() {
				Expect(claim(ctx, driver, 10, "w1")).To(BeEmpty())
			})

			It("never hands the same entry to two claimants", func() {
				const (
					rows    = 40
					workers = 8
					batch   = 10
				)
				for i := range rows {
					appendEntry(ctx, driver, tenant, fmt.Sprintf("k%d", i))
				}

				var (
					wg   sync.WaitGroup
					mu   sync.Mutex
					seen = make(map[string]string)
					dups []string
				)
				for w := range workers {
					wg.Add(1)
					go func(worker string) {
						defer GinkgoRecover()
						defer wg.Done()
						entries, err := driver.Claim(ctx, wal.ClaimRequest{Tenant: tenant, BatchSize: batch, WorkerID: worker})
						Expect(err).NotTo(HaveOccurred())

						mu.Lock()
						defer mu.Unlock()
						for _, e := range entries {
							if prev, ok := seen[e.ID]; ok {
								dups = append(dups, prev+"/"+worker)
							}
							seen[e.ID] = worker
						}
					}(fmt.Sprintf("w%d", w))
				}
				wg.Wait()

				Expect(dups).To(BeEmpty())
				Expect(seen).To(HaveLen(rows))
			})

			It("only claims entries of the requested tenant", func() {
				appendEntry(ctx, driver, "tenant-b", "k1")
				Expect(claim(ctx, driver, 10, "w1")).To(BeEmpty())
			})
		})

		Describe("Complete", func() {
			It("finishes the normal flow", func() {
				id := appendEntry(ctx, driver, tenant, "k1")
				entries := claim(ctx, driver, 10, "w1")
				Expect(entries).To(HaveLen(1))
				Expect(entries[0].Status).To(Equal(wal.StatusProcessing))

				clock.Advance(time.Second)
				ok, err := driver.Complete(ctx, tenant, id, "w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				stats, err := driver.Stats(ctx, tenant)
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.Pending).To(Equal(0))
				Expect(stats.Processing).To(Equal(0))
				Expect(stats.Completed).To(Equal(1))
				Expect(stats.Failed).To(Equal(0))

				e, err := driver.Get(ctx, tenant, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.ProcessedAt).NotTo(BeNil())
				Expect(*e.ProcessedAt).To(BeTemporally("==", Epoch.Add(time.Second)))
			})

			It("is a no-op for an entry that is not processing", func() {
				id := appendEntry(ctx, driver, tenant, "k1")
				ok, err := driver.Complete(ctx, tenant, id, "w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})

			It("refuses a worker that does not hold the claim", func() {
				id := appendEntry(ctx, driver, tenant, "k1")
				claim(ctx, driver, 10, "w1")

				ok, err := driver.Complete(ctx, tenant, id, "w2")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})

			It("is a no-op for an unknown id", func() {
				ok, err := driver.Complete(ctx, tenant, "missing", "w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})
		})

		Describe("Fail", func() {
			failOnce := func(id string, class wal.ErrorClass, maxRetries int) {
				ok, err := driver.Fail(ctx, wal.FailRequest{
					Tenant:     tenant,
					ID:         id,
					WorkerID:   "w1",
					Reason:     "boom",
					Class:      class,
					MaxRetries: maxRetries,
				})
				ExpectWithOffset(1, err).NotTo(HaveOccurred())
				ExpectWithOffset(1, ok).To(BeTrue())
			}

			It("requeues a transient failure behind a backoff delay", func() {
				id := appendEntry(ctx, driver, tenant, "k1")
				claim(ctx, driver, 10, "w1")
				failOnce(id, wal.Transient, 3)

				e, err := driver.Get(ctx, tenant, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(wal.StatusPending))
				Expect(e.RetryCount).To(Equal(1))
				Expect(e.LastError).To(HaveValue(Equal("boom")))
				Expect(e.WorkerID).To(BeNil())
				Expect(e.AvailableAt).To(BeTemporally("==", Epoch.Add(30*time.Second)))

				Expect(claim(ctx, driver, 10, "w1")).To(BeEmpty())
				clock.Advance(30 * time.Second)
				Expect(ids(claim(ctx, driver, 10, "w1"))).To(Equal([]string{id}))
			})

			It("dead-letters after exhausting retries", func() {
				id := appendEntry(ctx, driver, tenant, "k2")

				for range 3 {
					Expect(ids(claim(ctx, driver, 10, "w1"))).To(Equal([]string{id}))
					failOnce(id, wal.Transient, 2)
					clock.Advance(time.Hour)
				}

				e, err := driver.Get(ctx, tenant, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(wal.StatusFailed))
				Expect(e.RetryCount).To(Equal(2))
				Expect(e.ProcessedAt).NotTo(BeNil())
				Expect(e.LastError).To(HaveValue(Equal("boom")))

				Expect(claim(ctx, driver, 10, "w1")).To(BeEmpty())

				failed, err := driver.Failed(ctx, tenant, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(failed)).To(Equal([]string{id}))
			})

			It("dead-letters a permanent failure without consuming retries", func() {
				id := appendEntry(ctx, driver, tenant, "k1")
				claim(ctx, driver, 10, "w1")
				failOnce(id, wal.Permanent, 3)

				e, err := driver.Get(ctx, tenant, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(wal.StatusFailed))
				Expect(e.RetryCount).To(Equal(0))
				Expect(e.Metadata).To(HaveKeyWithValue(wal.MetaErrorClass, "permanent"))
			})

			It("keeps the last error after a successful retry", func() {
				id := appendEntry(ctx, driver, tenant, "k1")
				claim(ctx, driver, 10, "w1")
				failOnce(id, wal.Transient, 3)
				clock.Advance(time.Minute)
				claim(ctx, driver, 10, "w1")

				ok, err := driver.Complete(ctx, tenant, id, "w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				e, err := driver.Get(ctx, tenant, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(wal.StatusCompleted))
				Expect(e.LastError).To(HaveValue(Equal("boom")))
			})

			It("is a no-op for an entry that is not processing", func() {
				id := appendEntry(ctx, driver, tenant, "k1")
				ok, err := driver.Fail(ctx, wal.FailRequest{Tenant: tenant, ID: id, WorkerID: "w1", Reason: "x", MaxRetries: 3})
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})
		})

		Describe("Release", func() {
			It("returns unstarted entries without consuming retries", func() {
				a := appendEntry(ctx, driver, tenant, "k1")
				b := appendEntry(ctx, driver, tenant, "k2")
				claim(ctx, driver, 10, "w1")

				n, err := driver.Release(ctx, tenant, []string{a, b}, "w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(2))

				e, err := driver.Get(ctx, tenant, a)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(wal.StatusPending))
				Expect(e.RetryCount).To(Equal(0))
				Expect(e.WorkerID).To(BeNil())

				Expect(claim(ctx, driver, 10, "w2")).To(HaveLen(2))
			})

			It("ignores entries held by another worker", func() {
				a := appendEntry(ctx, driver, tenant, "k1")
				claim(ctx, driver, 10, "w1")

				n, err := driver.Release(ctx, tenant, []string{a}, "w2")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(0))
			})
		})

		Describe("Reap", func() {
			It("recovers a crashed worker's claim for another worker", func() {
				id := appendEntry(ctx, driver, tenant, "k1")
				Expect(ids(claim(ctx, driver, 10, "w1"))).To(Equal([]string{id}))

				clock.Advance(11 * time.Minute)
				n, err := driver.Reap(ctx, tenant, 10*time.Minute)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(1))

				e, err := driver.Get(ctx, tenant, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(wal.StatusPending))
				Expect(e.WorkerID).To(BeNil())
				Expect(e.RetryCount).To(Equal(0))
				Expect(e.Metadata[wal.MetaReapCount]).To(BeNumerically("==", 1))
				Expect(e.Metadata).To(HaveKeyWithValue(wal.MetaReapedFrom, "w1"))

				Expect(ids(claim(ctx, driver, 10, "w2"))).To(Equal([]string{id}))
			})

			It("leaves fresh claims alone", func() {
				appendEntry(ctx, driver, tenant, "k1")
				claim(ctx, driver, 10, "w1")

				clock.Advance(5 * time.Minute)
				n, err := driver.Reap(ctx, tenant, 10*time.Minute)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(0))
			})

			It("fences the original worker after a reap", func() {
				id := appendEntry(ctx, driver, tenant, "k1")
				claim(ctx, driver, 10, "w1")
				clock.Advance(11 * time.Minute)
				_, err := driver.Reap(ctx, tenant, 10*time.Minute)
				Expect(err).NotTo(HaveOccurred())
				claim(ctx, driver, 10, "w2")

				ok, err := driver.Complete(ctx, tenant, id, "w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())

				ok, err = driver.Complete(ctx, tenant, id, "w2")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
			})
		})

		Describe("Touch", func() {
			It("keeps a live claim from being reaped", func() {
				first := appendEntry(ctx, driver, tenant, "k1")
				second := appendEntry(ctx, driver, tenant, "k2")
				claim(ctx, driver, 10, "w1")

				clock.Advance(6 * time.Minute)
				held, err := driver.Touch(ctx, tenant, []string{first, second}, "w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(held).To(ConsistOf(first, second))

				clock.Advance(6 * time.Minute)
				n, err := driver.Reap(ctx, tenant, 10*time.Minute)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(0))

				e, err := driver.Get(ctx, tenant, second)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(wal.StatusProcessing))
				Expect(e.LastError).To(BeNil())
			})

			It("omits entries the worker no longer holds", func() {
				done := appendEntry(ctx, driver, tenant, "k1")
				other := appendEntry(ctx, driver, tenant, "k2")
				mine := appendEntry(ctx, driver, tenant, "k3")
				Expect(ids(claim(ctx, driver, 2, "w1"))).To(Equal([]string{done, other}))
				Expect(ids(claim(ctx, driver, 1, "w2"))).To(Equal([]string{mine}))

				ok, err := driver.Complete(ctx, tenant, done, "w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				held, err := driver.Touch(ctx, tenant, []string{done, other, mine}, "w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(held).To(Equal([]string{other}))
			})

			It("requires a worker id", func() {
				_, err := driver.Touch(ctx, tenant, []string{"x"}, "")
				Expect(err).To(MatchError(wal.ErrEmptyWorker))
			})
		})

		Describe("read interfaces", func() {
			It("lists pending entries oldest first and reports the oldest", func() {
				a := appendEntry(ctx, driver, tenant, "k1")
				clock.Advance(time.Second)
				b := appendEntry(ctx, driver, tenant, "k2")

				pending, err := driver.Pending(ctx, tenant, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(pending)).To(Equal([]string{a, b}))

				limited, err := driver.Pending(ctx, tenant, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(limited).To(HaveLen(1))

				stats, err := driver.Stats(ctx, tenant)
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.OldestPendingAt).To(HaveValue(BeTemporally("==", Epoch)))
			})

			It("returns ErrNotFound for a missing entry", func() {
				_, err := driver.Get(ctx, tenant, "missing")
				Expect(errors.Is(err, wal.ErrNotFound)).To(BeTrue())

				var nf storage.NotFoundError
				Expect(errors.As(err, &nf)).To(BeTrue())
				Expect(nf.Kind).To(Equal(storage.KindEntry))
			})
		})

		Describe("checkpoints", func() {
			It("stamps entries and returns the latest checkpoint", func() {
				id := appendEntry(ctx, driver, tenant, "k1")

				_, err := driver.LatestCheckpoint(ctx, tenant, "")
				Expect(err).To(MatchError(wal.ErrNoCheckpoint))

				Expect(driver.SaveCheckpoint(ctx, &wal.Checkpoint{
					ID: "cp-1", Tenant: tenant, WorkerID: "w1", BatchSize: 1, Watermark: id, Processed: 1, CreatedAt: Epoch,
				}, []string{id})).To(Succeed())
				Expect(driver.SaveCheckpoint(ctx, &wal.Checkpoint{
					ID: "cp-2", Tenant: tenant, WorkerID: "w2", BatchSize: 3, Watermark: id, Processed: 3, CreatedAt: Epoch.Add(time.Minute),
				}, nil)).To(Succeed())

				latest, err := driver.LatestCheckpoint(ctx, tenant, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(latest.ID).To(Equal("cp-2"))

				mine, err := driver.LatestCheckpoint(ctx, tenant, "w1")
				Expect(err).NotTo(HaveOccurred())
				Expect(mine.ID).To(Equal("cp-1"))
				Expect(mine.Processed).To(Equal(int64(1)))

				e, err := driver.Get(ctx, tenant, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.CheckpointID).To(HaveValue(Equal("cp-1")))
			})
		})

		Describe("memory records", func() {
			observe := func(key, entryID string, at time.Time, utility float64) (*memory.Record, bool) {
				rec, applied, err := driver.Observe(ctx, memory.Observation{
					Tenant:       tenant,
					Key:          key,
					EntryID:      entryID,
					Label:        "Ada Lovelace",
					Kind:         "person",
					Content:      "content from " + entryID,
					At:           at,
					Utility:      utility,
					Confidence:   0.8,
					DefaultScore: 0.5,
				})
				ExpectWithOffset(1, err).NotTo(HaveOccurred())
				return rec, applied
			}

			It("creates a record with the default score", func() {
				rec, applied := observe("ada lovelace", "e1", Epoch, 0.1)
				Expect(applied).To(BeTrue())
				Expect(rec.SalienceScore).To(Equal(0.5))
				Expect(rec.AccessCount).To(Equal(1))
				Expect(rec.IsArchived).To(BeFalse())

				got, err := driver.GetRecord(ctx, tenant, "ada lovelace")
				Expect(err).NotTo(HaveOccurred())
				Expect(got.ID).To(Equal(rec.ID))
				Expect(got.LastAccessedAt).To(BeTemporally("==", Epoch))
				Expect(got.Confidence).To(Equal(0.8))
			})

			It("applies each entry's observation once", func() {
				observe("ada lovelace", "e1", Epoch, 0.1)
				_, applied := observe("ada lovelace", "e1", Epoch, 0.1)
				Expect(applied).To(BeFalse())
				rec, applied := observe("ada lovelace", "e2", Epoch.Add(time.Hour), 0.1)
				Expect(applied).To(BeTrue())

				Expect(rec.AccessCount).To(Equal(2))
				Expect(rec.Utility).To(BeNumerically("~", 0.2, 1e-9))
				Expect(rec.Content).To(Equal("content from e2"))
			})

			It("lets the newest interaction win regardless of order", func() {
				observe("ada lovelace", "e2", Epoch.Add(time.Hour), 0)
				rec, _ := observe("ada lovelace", "e1", Epoch, 0)
				Expect(rec.Content).To(Equal("content from e2"))
				Expect(rec.LastAccessedAt).To(BeTemporally("==", Epoch.Add(time.Hour)))
			})

			It("stores salience within bounds", func() {
				observe("ada lovelace", "e1", Epoch, 0)
				Expect(driver.SetSalience(ctx, tenant, "ada lovelace", 0.75, Epoch)).To(Succeed())
				Expect(driver.SetSalience(ctx, tenant, "ada lovelace", 1.5, Epoch)).To(MatchError(memory.ErrInvalidScore))

				rec, err := driver.GetRecord(ctx, tenant, "ada lovelace")
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.SalienceScore).To(Equal(0.75))

				err = driver.SetSalience(ctx, tenant, "nobody", 0.5, Epoch)
				Expect(errors.Is(err, memory.ErrNotFound)).To(BeTrue())
			})

			It("deduplicates links", func() {
				link := memory.Link{Tenant: tenant, FromKey: "ada lovelace", ToKey: "analytical engine", Rel: "worked_on", EntryID: "e1"}
				Expect(driver.Link(ctx, link)).To(Succeed())
				Expect(driver.Link(ctx, link)).To(Succeed())

				links, err := driver.Links(ctx, tenant, "ada lovelace")
				Expect(err).NotTo(HaveOccurred())
				Expect(links).To(HaveLen(1))
				Expect(links[0].Rel).To(Equal("worked_on"))
			})

			It("archives once and lists candidates by salience", func() {
				observe("ada lovelace", "e1", Epoch, 0)
				observe("charles babbage", "e1", Epoch, 0)
				Expect(driver.SetSalience(ctx, tenant, "ada lovelace", 0.1, Epoch)).To(Succeed())
				Expect(driver.SetSalience(ctx, tenant, "charles babbage", 0.05, Epoch)).To(Succeed())

				candidates, err := driver.ArchiveCandidates(ctx, tenant, Epoch, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(candidates).To(HaveLen(2))
				Expect(candidates[0].Key).To(Equal("charles babbage"))

				none, err := driver.ArchiveCandidates(ctx, tenant, Epoch.Add(-time.Hour), 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(none).To(BeEmpty())

				ok, err := driver.MarkArchived(ctx, tenant, "ada lovelace", "summary", "mem://archive/x", Epoch)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				ok, err = driver.MarkArchived(ctx, tenant, "ada lovelace", "summary", "mem://archive/x", Epoch)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())

				rec, err := driver.GetRecord(ctx, tenant, "ada lovelace")
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.IsArchived).To(BeTrue())
				Expect(rec.Content).To(Equal("summary"))
				Expect(rec.ArchiveRef).To(Equal("mem://archive/x"))

				candidates, err = driver.ArchiveCandidates(ctx, tenant, Epoch, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(candidates).To(HaveLen(1))

				_, err = driver.MarkArchived(ctx, tenant, "nobody", "s", "r", Epoch)
				Expect(errors.Is(err, memory.ErrNotFound)).To(BeTrue())
			})
		})

		It("answers Ping while open", func() {
			Expect(driver.Ping(ctx)).To(Succeed())
		})

		It("serializes entries as the documented JSON shape", func() {
			id := appendEntry(ctx, driver, tenant, "k1")
			e, err := driver.Get(ctx, tenant, id)
			Expect(err).NotTo(HaveOccurred())

			b, err := json.Marshal(e)
			Expect(err).NotTo(HaveOccurred())
			var shape map[string]any
			Expect(json.Unmarshal(b, &shape)).To(Succeed())
			Expect(shape).To(HaveKeyWithValue("status", "pending"))
			Expect(shape).To(HaveKey("raw_payload"))
			Expect(shape).To(HaveKey("idempotency_key"))
		})
	})
}
