package metrics_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/papercomputeco/memwal/pkg/metrics"
)

var _ = Describe("Metrics", func() {
	It("is safe to use when nil", func() {
		var m *metrics.Metrics
		Expect(func() {
			m.ObserveAppend("t", true, time.Millisecond)
			m.IncFailed("t", "transient", false)
			m.SetRSS(1)
		}).NotTo(Panic())
	})

	It("records nothing without a registry", func() {
		m, err := metrics.New(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(func() { m.AddClaimed("t", 3) }).NotTo(Panic())
	})

	It("exports counters by tenant", func() {
		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg)
		Expect(err).NotTo(HaveOccurred())

		m.ObserveAppend("t", true, time.Millisecond)
		m.ObserveAppend("t", false, time.Millisecond)
		m.IncFailed("t", "permanent", true)
		m.SetQueueDepth("t", 7)

		Expect(testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP memwal_wal_appended_total Append calls by outcome
# TYPE memwal_wal_appended_total counter
memwal_wal_appended_total{outcome="created",tenant="t"} 1
memwal_wal_appended_total{outcome="duplicate",tenant="t"} 1
`), "memwal_wal_appended_total")).To(Succeed())

		Expect(testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP memwal_wal_queue_depth Pending entries per tenant
# TYPE memwal_wal_queue_depth gauge
memwal_wal_queue_depth{tenant="t"} 7
`), "memwal_wal_queue_depth")).To(Succeed())
	})

	It("reuses collectors registered twice", func() {
		reg := prometheus.NewRegistry()
		_, err := metrics.New(reg)
		Expect(err).NotTo(HaveOccurred())
		_, err = metrics.New(reg)
		Expect(err).NotTo(HaveOccurred())
	})
})
