package consolidate_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memwal/pkg/consolidate"
	"github.com/papercomputeco/memwal/pkg/dispatch"
	"github.com/papercomputeco/memwal/pkg/dispatch/local"
	"github.com/papercomputeco/memwal/pkg/extraction"
	"github.com/papercomputeco/memwal/pkg/extraction/passthrough"
	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/memory/coldstore"
	"github.com/papercomputeco/memwal/pkg/storage/inmemory"
	"github.com/papercomputeco/memwal/pkg/storage/storagetest"
	"github.com/papercomputeco/memwal/pkg/wal"
)

type funcExtractor func(ctx context.Context, req extraction.Request) (*extraction.Result, error)

func (f funcExtractor) Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error) {
	return f(ctx, req)
}

func (f funcExtractor) Close() error { return nil }

// flakyStore fails the first Complete calls with a transient error.
type flakyStore struct {
	*inmemory.Driver

	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Complete(ctx context.Context, tenant, id, workerID string) (bool, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return false, errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.Driver.Complete(ctx, tenant, id, workerID)
}

func interaction(content string, entities []extraction.Entity, rels ...extraction.Relationship) []byte {
	GinkgoHelper()
	payload, err := json.Marshal(extraction.Interaction{
		Actor:         "alice",
		Channel:       "sms",
		Content:       content,
		OccurredAt:    storagetest.Epoch,
		Entities:      entities,
		Relationships: rels,
	})
	Expect(err).NotTo(HaveOccurred())
	return payload
}

var _ = Describe("Worker", func() {
	var (
		ctx    context.Context
		clock  *storagetest.Clock
		store  *inmemory.Driver
		config consolidate.Config
	)

	appendEntry := func(key string, payload []byte) string {
		GinkgoHelper()
		id, created, err := store.Append(ctx, wal.AppendRequest{Tenant: "t", IdempotencyKey: key, Payload: payload})
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
		return id
	}

	stats := func() *wal.Stats {
		GinkgoHelper()
		s, err := store.Stats(ctx, "t")
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	start := func(c consolidate.Config) (*consolidate.Worker, context.CancelFunc, chan error) {
		GinkgoHelper()
		w, err := consolidate.NewWorker(c)
		Expect(err).NotTo(HaveOccurred())
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- w.Run(runCtx) }()
		DeferCleanup(cancel)
		return w, cancel, done
	}

	BeforeEach(func() {
		ctx = context.Background()
		clock = storagetest.NewClock(storagetest.Epoch)
		store = inmemory.NewDriver(inmemory.WithClock(clock.Now))
		config = consolidate.Config{
			Store:        store,
			Extractor:    passthrough.NewExtractor(),
			Tenants:      []string{"t"},
			WorkerID:     "w1",
			PollInterval: 10 * time.Millisecond,
			Retry:        consolidate.NewStoreBackoff(time.Millisecond, time.Second),
			Clock:        clock.Now,
		}
	})

	Describe("NewWorker", func() {
		It("requires a store and an extractor", func() {
			_, err := consolidate.NewWorker(consolidate.Config{Tenants: []string{"t"}})
			Expect(err).To(HaveOccurred())

			_, err = consolidate.NewWorker(consolidate.Config{Store: store, Tenants: []string{"t"}})
			Expect(err).To(HaveOccurred())
		})

		It("rejects a missing or empty tenant", func() {
			config.Tenants = nil
			_, err := consolidate.NewWorker(config)
			Expect(err).To(HaveOccurred())

			config.Tenants = []string{"t", ""}
			_, err = consolidate.NewWorker(config)
			Expect(err).To(MatchError(wal.ErrEmptyTenant))
		})

		It("generates a worker id", func() {
			config.WorkerID = ""
			w, err := consolidate.NewWorker(config)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.ID()).NotTo(BeEmpty())
			Expect(w.State()).To(Equal(consolidate.StateIdle))
		})
	})

	Context("processing entries", func() {
		It("consolidates entities and relationships and completes the entry", func() {
			appendEntry("k1", interaction("met ada at the lab",
				[]extraction.Entity{{Name: "Ada  Lovelace", Kind: "person", Utility: 0.4}, {Name: "The Lab", Kind: "place"}},
				extraction.Relationship{From: "Ada Lovelace", To: "the lab", Rel: "works_at"},
			))
			appendEntry("k2", interaction("ada again", []extraction.Entity{{Name: "ada lovelace", Summary: "mathematician"}}))

			w, cancel, done := start(config)
			Eventually(func() int { return stats().Completed }).Should(Equal(2))

			rec, err := store.GetRecord(ctx, "t", "ada lovelace")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.AccessCount).To(Equal(2))
			Expect(rec.Label).To(Equal("Ada  Lovelace"))
			Expect(rec.Kind).To(Equal("person"))
			Expect(rec.Utility).To(BeNumerically("~", 0.4, 1e-9))
			Expect(rec.SalienceScore).To(BeNumerically(">", 0))
			Expect(rec.SalienceScore).To(BeNumerically("<=", 1))

			links, err := store.Links(ctx, "t", "ada lovelace")
			Expect(err).NotTo(HaveOccurred())
			Expect(links).To(HaveLen(1))
			Expect(links[0].ToKey).To(Equal("the lab"))
			Expect(links[0].Rel).To(Equal("works_at"))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
			Expect(w.State()).To(Equal(consolidate.StateExited))
			Expect(w.Processed()).To(Equal(int64(2)))
		})

		It("dead-letters a malformed payload without consuming retries", func() {
			id := appendEntry("bad", []byte(`{"content": 42}`))

			_, cancel, done := start(config)
			Eventually(func() int { return stats().Failed }).Should(Equal(1))

			e, err := store.Get(ctx, "t", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Status).To(Equal(wal.StatusFailed))
			Expect(e.RetryCount).To(BeZero())
			Expect(e.LastError).NotTo(BeNil())
			Expect(*e.LastError).To(ContainSubstring("malformed"))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("requeues a transient extraction failure with backoff", func() {
			config.Extractor = funcExtractor(func(context.Context, extraction.Request) (*extraction.Result, error) {
				return nil, errors.New("upstream timeout")
			})
			id := appendEntry("k1", interaction("hello", nil))

			_, cancel, done := start(config)
			Eventually(func() int {
				e, err := store.Get(ctx, "t", id)
				Expect(err).NotTo(HaveOccurred())
				return e.RetryCount
			}).Should(Equal(1))

			e, err := store.Get(ctx, "t", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Status).To(Equal(wal.StatusPending))
			Expect(e.WorkerID).To(BeNil())
			Expect(e.AvailableAt).To(BeTemporally("==", storagetest.Epoch.Add(30*time.Second)))
			Expect(*e.LastError).To(ContainSubstring("upstream timeout"))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("dead-letters after the retry budget is spent", func() {
			config.Extractor = funcExtractor(func(context.Context, extraction.Request) (*extraction.Result, error) {
				return nil, errors.New("upstream timeout")
			})
			config.Settings = func(tenant string) (consolidate.TenantSettings, error) {
				s, err := consolidate.DefaultSettings(tenant)
				s.MaxRetries = 0
				return s, err
			}
			id := appendEntry("k1", interaction("hello", nil))

			_, cancel, done := start(config)
			Eventually(func() int { return stats().Failed }).Should(Equal(1))

			e, err := store.Get(ctx, "t", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.RetryCount).To(BeZero())
			Expect(e.ProcessedAt).NotTo(BeNil())

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("retries transient store errors", func() {
			flaky := &flakyStore{Driver: store, failures: 2}
			config.Store = flaky
			appendEntry("k1", interaction("hello", nil))

			_, cancel, done := start(config)
			Eventually(func() int { return stats().Completed }).Should(Equal(1))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	Context("long batches", func() {
		It("keeps the unfinished claims alive while earlier entries run", func() {
			reaper, err := consolidate.NewReaper(consolidate.ReaperConfig{
				Store:      store,
				Tenants:    []string{"t"},
				StaleAfter: 10 * time.Minute,
			})
			Expect(err).NotTo(HaveOccurred())

			var calls, reaped atomic.Int32
			config.BatchSize = 3
			config.Extractor = funcExtractor(func(ctx context.Context, _ extraction.Request) (*extraction.Result, error) {
				calls.Add(1)
				clock.Advance(6 * time.Minute)
				n, err := reaper.Sweep(ctx)
				if err != nil {
					return nil, err
				}
				reaped.Add(int32(n))
				return &extraction.Result{Entities: []extraction.Entity{{Name: "bob"}}}, nil
			})
			ids := []string{
				appendEntry("k1", interaction("hello k1", nil)),
				appendEntry("k2", interaction("hello k2", nil)),
				appendEntry("k3", interaction("hello k3", nil)),
			}

			_, cancel, done := start(config)
			Eventually(func() int { return stats().Completed }).Should(Equal(3))
			cancel()
			Eventually(done).Should(Receive(BeNil()))

			Expect(reaped.Load()).To(BeZero())
			Expect(calls.Load()).To(Equal(int32(3)))
			for _, id := range ids {
				e, err := store.Get(ctx, "t", id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.LastError).To(BeNil())
			}
		})
	})

	Context("checkpoints", func() {
		It("writes a checkpoint every interval and flushes the rest on exit", func() {
			config.Settings = func(tenant string) (consolidate.TenantSettings, error) {
				s, err := consolidate.DefaultSettings(tenant)
				s.CheckpointInterval = 2
				return s, err
			}
			for _, k := range []string{"k1", "k2", "k3", "k4", "k5"} {
				appendEntry(k, interaction("hello "+k, nil))
			}

			_, cancel, done := start(config)
			Eventually(func() int { return stats().Completed }).Should(Equal(5))
			Eventually(func() int64 {
				cp, err := store.LatestCheckpoint(ctx, "t", "w1")
				if err != nil {
					return 0
				}
				return cp.Processed
			}).Should(Equal(int64(4)))

			cancel()
			Eventually(done).Should(Receive(BeNil()))

			cp, err := store.LatestCheckpoint(ctx, "t", "w1")
			Expect(err).NotTo(HaveOccurred())
			Expect(cp.Processed).To(Equal(int64(5)))
			Expect(cp.BatchSize).To(Equal(1))
		})
	})

	It("picks up a reloaded checkpoint interval", func() {
		var interval atomic.Int32
		interval.Store(100)
		config.Settings = func(tenant string) (consolidate.TenantSettings, error) {
			s, err := consolidate.DefaultSettings(tenant)
			s.CheckpointInterval = int(interval.Load())
			return s, err
		}
		appendEntry("k1", interaction("hello k1", nil))

		_, cancel, done := start(config)
		Eventually(func() int { return stats().Completed }).Should(Equal(1))
		_, err := store.LatestCheckpoint(ctx, "t", "w1")
		Expect(err).To(MatchError(wal.ErrNoCheckpoint))

		interval.Store(2)
		appendEntry("k2", interaction("hello k2", nil))
		Eventually(func() int64 {
			cp, err := store.LatestCheckpoint(ctx, "t", "w1")
			if err != nil {
				return 0
			}
			return cp.Processed
		}).Should(Equal(int64(2)))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	Context("draining", func() {
		It("exits without claiming when the drain is already requested", func() {
			drain := make(chan struct{})
			close(drain)
			config.Drain = drain
			id := appendEntry("k1", interaction("hello", nil))

			w, err := consolidate.NewWorker(config)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Run(ctx)).To(MatchError(consolidate.ErrDrained))
			Expect(w.State()).To(Equal(consolidate.StateExited))

			e, err := store.Get(ctx, "t", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Status).To(Equal(wal.StatusPending))
		})

		It("finishes the in-flight entry and releases the rest of the batch", func() {
			drain := make(chan struct{})
			var once sync.Once
			config.Drain = drain
			config.Extractor = funcExtractor(func(_ context.Context, req extraction.Request) (*extraction.Result, error) {
				once.Do(func() { close(drain) })
				return &extraction.Result{Entities: []extraction.Entity{{Name: "bob"}}}, nil
			})
			for _, k := range []string{"k1", "k2", "k3"} {
				appendEntry(k, interaction("hello "+k, nil))
			}

			w, err := consolidate.NewWorker(config)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Run(ctx)).To(MatchError(consolidate.ErrDrained))

			s := stats()
			Expect(s.Completed).To(Equal(1))
			Expect(s.Pending).To(Equal(2))
			Expect(s.Processing).To(BeZero())

			pending, err := store.Pending(ctx, "t", 10)
			Expect(err).NotTo(HaveOccurred())
			for _, e := range pending {
				Expect(e.RetryCount).To(BeZero())
				Expect(e.WorkerID).To(BeNil())
			}

			cp, err := store.LatestCheckpoint(ctx, "t", "w1")
			Expect(err).NotTo(HaveOccurred())
			Expect(cp.Processed).To(Equal(int64(1)))
		})
	})

	Context("waking", func() {
		It("claims as soon as a dispatch signal arrives", func() {
			signal := local.NewSignal(local.DefaultBuffer)
			config.Signal = signal
			config.PollInterval = time.Hour

			w, cancel, done := start(config)
			Eventually(w.State).Should(Equal(consolidate.StateIdle))

			id := appendEntry("k1", interaction("hello", nil))
			Expect(signal.Notify(ctx, dispatch.NewAppended("t", id, clock.Now()))).To(Succeed())
			Eventually(func() int { return stats().Completed }).Should(Equal(1))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	Context("archive sweep", func() {
		It("archives old records whose salience fell below the threshold", func() {
			_, _, err := store.Observe(ctx, memory.Observation{
				Tenant:       "t",
				Key:          "old friend",
				EntryID:      "seed",
				Label:        "Old Friend",
				Content:      "met once at a conference",
				At:           clock.Now(),
				DefaultScore: 0.5,
			})
			Expect(err).NotTo(HaveOccurred())
			clock.Advance(40 * 24 * time.Hour)

			cold := coldstore.NewMemory()
			archiver, err := memory.NewArchiver(memory.ArchiverConfig{Records: store, Cold: cold})
			Expect(err).NotTo(HaveOccurred())
			config.Archiver = archiver

			_, cancel, done := start(config)
			Eventually(func() bool {
				rec, err := store.GetRecord(ctx, "t", "old friend")
				Expect(err).NotTo(HaveOccurred())
				return rec.IsArchived
			}).Should(BeTrue())

			rec, err := store.GetRecord(ctx, "t", "old friend")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ArchiveRef).NotTo(BeEmpty())
			Expect(rec.SalienceScore).To(BeNumerically("<", 0.2))
			Expect(cold.Len()).To(Equal(1))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("keeps records younger than the minimum age", func() {
			_, _, err := store.Observe(ctx, memory.Observation{
				Tenant: "t", Key: "new friend", EntryID: "seed", At: clock.Now(), DefaultScore: 0.5,
			})
			Expect(err).NotTo(HaveOccurred())

			cold := coldstore.NewMemory()
			archiver, err := memory.NewArchiver(memory.ArchiverConfig{Records: store, Cold: cold})
			Expect(err).NotTo(HaveOccurred())
			config.Archiver = archiver

			appendEntry("k1", interaction("hello", nil))

			_, cancel, done := start(config)
			Eventually(func() int { return stats().Completed }).Should(Equal(1))
			cancel()
			Eventually(done).Should(Receive(BeNil()))

			rec, err := store.GetRecord(ctx, "t", "new friend")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.IsArchived).To(BeFalse())
			Expect(cold.Len()).To(BeZero())
		})
	})
})

var _ = Describe("State", func() {
	It("names every state", func() {
		Expect(consolidate.StateIdle.String()).To(Equal("idle"))
		Expect(consolidate.StateCheckpointing.String()).To(Equal("checkpointing"))
		Expect(consolidate.StateExited.String()).To(Equal("exited"))
		Expect(consolidate.State(42).String()).To(Equal("State(42)"))
	})
})
