package salience_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/salience"
)

var _ = Describe("Scorer", func() {
	var (
		scorer *salience.Scorer
		now    time.Time
	)

	BeforeEach(func() {
		var err error
		scorer, err = salience.NewScorer(salience.DefaultConfig())
		Expect(err).NotTo(HaveOccurred())
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	Describe("NewScorer", func() {
		It("rejects weights that do not sum to one", func() {
			cfg := salience.DefaultConfig()
			cfg.Weights = salience.Weights{Recency: 0.5, Frequency: 0.5, Utility: 0.5}
			_, err := salience.NewScorer(cfg)
			Expect(err).To(MatchError(salience.ErrWeightSum))
		})

		It("rejects negative weights", func() {
			cfg := salience.DefaultConfig()
			cfg.Weights = salience.Weights{Recency: -0.2, Frequency: 0.6, Utility: 0.6}
			_, err := salience.NewScorer(cfg)
			Expect(err).To(MatchError(salience.ErrNegativeWeight))
		})

		It("rejects a non-positive half-life", func() {
			cfg := salience.DefaultConfig()
			cfg.HalfLife = 0
			_, err := salience.NewScorer(cfg)
			Expect(err).To(HaveOccurred())
		})

		It("parses a weight triple", func() {
			w, err := salience.WeightsFromSlice([]float64{0.2, 0.2, 0.6})
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Utility).To(Equal(0.6))

			_, err = salience.WeightsFromSlice([]float64{1})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Recency", func() {
		It("is 1 for a record accessed now or in the future", func() {
			Expect(salience.Recency(0, time.Hour)).To(Equal(1.0))
			Expect(salience.Recency(-time.Minute, time.Hour)).To(Equal(1.0))
		})

		It("halves after one half-life", func() {
			Expect(salience.Recency(time.Hour, time.Hour)).To(BeNumerically("~", 0.5, 1e-9))
			Expect(salience.Recency(2*time.Hour, time.Hour)).To(BeNumerically("~", 0.25, 1e-9))
		})
	})

	Describe("Frequency", func() {
		It("is 0 for no accesses and saturates at 1", func() {
			Expect(salience.Frequency(0, 100)).To(Equal(0.0))
			Expect(salience.Frequency(100, 100)).To(BeNumerically("~", 1.0, 1e-9))
			Expect(salience.Frequency(10_000, 100)).To(Equal(1.0))
		})
	})

	Describe("Score", func() {
		It("stays within [0,1]", func() {
			rec := &memory.Record{LastAccessedAt: now, AccessCount: 1_000_000, Utility: 7}
			Expect(scorer.Score(rec, now)).To(BeNumerically("<=", 1))

			rec = &memory.Record{LastAccessedAt: now.Add(-10 * 365 * 24 * time.Hour), Utility: -3}
			Expect(scorer.Score(rec, now)).To(BeNumerically(">=", 0))
		})

		It("never decreases when access count grows with recency and utility fixed", func() {
			last := now.Add(-36 * time.Hour)
			prev := -1.0
			for count := 0; count <= 500; count += 7 {
				rec := &memory.Record{LastAccessedAt: last, AccessCount: count, Utility: 0.25}
				score := scorer.Score(rec, now)
				Expect(score).To(BeNumerically(">=", prev))
				prev = score
			}
		})

		It("is deterministic for unchanged inputs", func() {
			rec := &memory.Record{LastAccessedAt: now.Add(-72 * time.Hour), AccessCount: 4, Utility: 0.1}
			Expect(scorer.Score(rec, now)).To(Equal(scorer.Score(rec.Clone(), now)))
		})

		It("weights the components with the configured coefficients", func() {
			c := salience.Components{Recency: 1, Frequency: 0, Utility: 0.5}
			Expect(scorer.Combine(c)).To(BeNumerically("~", 0.3+0.2, 1e-9))
		})
	})

	Describe("Decide", func() {
		var stale *memory.Record

		BeforeEach(func() {
			stale = &memory.Record{
				CreatedAt:      now.Add(-60 * 24 * time.Hour),
				LastAccessedAt: now.Add(-59 * 24 * time.Hour),
				AccessCount:    1,
			}
		})

		It("archives an old record with low salience", func() {
			d := scorer.Decide(stale, now)
			Expect(d.Archive).To(BeTrue())
			Expect(d.Score).To(BeNumerically("<", salience.DefaultArchiveThreshold))
			Expect(d.Reason).To(Equal(salience.ReasonLowSalience))
		})

		It("keeps a record younger than the minimum age", func() {
			stale.CreatedAt = now.Add(-10 * 24 * time.Hour)
			d := scorer.Decide(stale, now)
			Expect(d.Archive).To(BeFalse())
			Expect(d.Reason).To(Equal(salience.ReasonTooYoung))
		})

		It("keeps an old record that is still useful", func() {
			stale.Utility = 0.9
			d := scorer.Decide(stale, now)
			Expect(d.Archive).To(BeFalse())
			Expect(d.Reason).To(Equal(salience.ReasonSalient))
		})

		It("never re-archives an archived record", func() {
			stale.IsArchived = true
			Expect(scorer.Decide(stale, now).Archive).To(BeFalse())
		})

		It("returns the same outcome when re-run on an unchanged record", func() {
			first := scorer.Decide(stale, now)
			for range 5 {
				Expect(scorer.Decide(stale, now)).To(Equal(first))
			}
		})
	})
})
