// Package metrics holds the Prometheus collectors of the WAL pipeline. A nil
// or unregistered *Metrics is valid and records nothing, so components can
// take one unconditionally.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "memwal"

var appendDurationBuckets = prometheus.ExponentialBuckets(0.0005, 2, 14) // ~0.5ms to 4s

type Metrics struct {
	monitoring bool

	appended    *prometheus.CounterVec
	claimed     *prometheus.CounterVec
	completed   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	released    *prometheus.CounterVec
	reaped      *prometheus.CounterVec
	checkpoints *prometheus.CounterVec
	archived    *prometheus.CounterVec

	appendDuration prometheus.Histogram

	rss        prometheus.Gauge
	queueDepth *prometheus.GaugeVec
}

// New registers the collectors with reg. A nil reg yields a Metrics that
// records nothing.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	if reg == nil {
		return m, nil
	}
	m.monitoring = true

	var err error

	m.appended, err = newCounterVec(reg, "wal_appended_total", "Append calls by outcome", "tenant", "outcome")
	if err != nil {
		return nil, err
	}
	m.claimed, err = newCounterVec(reg, "wal_claimed_total", "Entries claimed by workers", "tenant")
	if err != nil {
		return nil, err
	}
	m.completed, err = newCounterVec(reg, "wal_completed_total", "Entries completed", "tenant")
	if err != nil {
		return nil, err
	}
	m.failed, err = newCounterVec(reg, "wal_failed_total", "Failed attempts by error class and whether the entry was dead-lettered", "tenant", "class", "terminal")
	if err != nil {
		return nil, err
	}
	m.released, err = newCounterVec(reg, "wal_released_total", "Claimed entries released unstarted on drain", "tenant")
	if err != nil {
		return nil, err
	}
	m.reaped, err = newCounterVec(reg, "wal_reaped_total", "Stale claims returned to pending by the reaper", "tenant")
	if err != nil {
		return nil, err
	}
	m.checkpoints, err = newCounterVec(reg, "wal_checkpoints_total", "Checkpoints written", "tenant")
	if err != nil {
		return nil, err
	}
	m.archived, err = newCounterVec(reg, "memory_archived_total", "Memory records archived", "tenant")
	if err != nil {
		return nil, err
	}

	m.appendDuration, err = newHistogram(reg, "wal_append_duration_seconds", "Duration of the ingestion fast path", appendDurationBuckets)
	if err != nil {
		return nil, err
	}

	m.rss, err = newGauge(reg, "worker_memory_rss_bytes", "Resident set size sampled by the resource guard")
	if err != nil {
		return nil, err
	}
	m.queueDepth, err = newGaugeVec(reg, "wal_queue_depth", "Pending entries per tenant", "tenant")
	if err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, name string, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			if existing, ok := e.ExistingCollector.(C); ok {
				return existing, nil
			}
			return c, fmt.Errorf("metric %s already registered with a different type", name)
		}
		return c, err
	}
	return c, nil
}

func newCounterVec(reg prometheus.Registerer, name, help string, labels ...string) (*prometheus.CounterVec, error) {
	return register(reg, name, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels))
}

func newGaugeVec(reg prometheus.Registerer, name, help string, labels ...string) (*prometheus.GaugeVec, error) {
	return register(reg, name, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels))
}

func newGauge(reg prometheus.Registerer, name, help string) (prometheus.Gauge, error) {
	return register(reg, name, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}))
}

func newHistogram(reg prometheus.Registerer, name, help string, buckets []float64) (prometheus.Histogram, error) {
	return register(reg, name, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}))
}

func (m *Metrics) enabled() bool {
	return m != nil && m.monitoring
}

// Fast path

func (m *Metrics) ObserveAppend(tenant string, created bool, d time.Duration) {
	if !m.enabled() {
		return
	}
	outcome := "created"
	if !created {
		outcome = "duplicate"
	}
	m.appended.WithLabelValues(tenant, outcome).Inc()
	m.appendDuration.Observe(d.Seconds())
}

func (m *Metrics) IncAppendError(tenant string) {
	if m.enabled() {
		m.appended.WithLabelValues(tenant, "error").Inc()
	}
}

// Slow path

func (m *Metrics) AddClaimed(tenant string, n int) {
	if m.enabled() {
		m.claimed.WithLabelValues(tenant).Add(float64(n))
	}
}

func (m *Metrics) IncCompleted(tenant string) {
	if m.enabled() {
		m.completed.WithLabelValues(tenant).Inc()
	}
}

func (m *Metrics) IncFailed(tenant, class string, terminal bool) {
	if m.enabled() {
		m.failed.WithLabelValues(tenant, class, strconv.FormatBool(terminal)).Inc()
	}
}

func (m *Metrics) AddReleased(tenant string, n int) {
	if m.enabled() {
		m.released.WithLabelValues(tenant).Add(float64(n))
	}
}

func (m *Metrics) AddReaped(tenant string, n int) {
	if m.enabled() {
		m.reaped.WithLabelValues(tenant).Add(float64(n))
	}
}

func (m *Metrics) IncCheckpoints(tenant string) {
	if m.enabled() {
		m.checkpoints.WithLabelValues(tenant).Inc()
	}
}

func (m *Metrics) IncArchived(tenant string) {
	if m.enabled() {
		m.archived.WithLabelValues(tenant).Inc()
	}
}

// Gauges

func (m *Metrics) SetRSS(bytes uint64) {
	if m.enabled() {
		m.rss.Set(float64(bytes))
	}
}

func (m *Metrics) SetQueueDepth(tenant string, n int) {
	if m.enabled() {
		m.queueDepth.WithLabelValues(tenant).Set(float64(n))
	}
}
