// Package resource implements the worker's Resource Guard. It samples the
// process resident set size, classifies it against a hard limit, and asks the
// consolidation worker to drain before the OS kills the process mid-batch.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/memwal/pkg/logger"
	"github.com/papercomputeco/memwal/pkg/metrics"
)

// Status classifies memory pressure.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

const (
	// DefaultLimitMB is the hard limit when none is configured.
	DefaultLimitMB = 2048

	// DefaultSampleInterval is the time between RSS samples.
	DefaultSampleInterval = 5 * time.Second

	warningRatio   = 0.75
	softLimitRatio = 0.90
)

const mb = 1 << 20

// Classify maps a resident size onto a Status. A zero limit is always healthy.
func Classify(rssBytes, limitBytes uint64) Status {
	if limitBytes == 0 {
		return StatusHealthy
	}
	ratio := float64(rssBytes) / float64(limitBytes)
	switch {
	case ratio >= 1:
		return StatusCritical
	case ratio >= warningRatio:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// Snapshot is the guard's most recent reading.
type Snapshot struct {
	RSSMB     uint64    `json:"memory_rss_mb"`
	LimitMB   uint64    `json:"memory_limit_mb"`
	Status    Status    `json:"memory_status"`
	SampledAt time.Time `json:"sampled_at"`
}

// Sampler returns the current resident set size in bytes.
type Sampler func() (uint64, error)

// Config holds the settings of a Guard.
type Config struct {
	// LimitMB is the hard limit. Zero auto-detects it with DetectLimit.
	LimitMB uint64

	SampleInterval time.Duration

	// Sampler defaults to ProcessRSS.
	Sampler Sampler

	// SetSoftLimit installs a Go runtime soft memory limit at 90% of the
	// hard limit so the collector pushes back before the guard drains.
	SetSoftLimit bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Guard samples memory and exposes a drain channel that is closed the first
// time a sample classifies as critical.
type Guard struct {
	limitBytes uint64
	interval   time.Duration
	sampler    Sampler
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu   sync.RWMutex
	last Snapshot

	critical  atomic.Bool
	drain     chan struct{}
	drainOnce sync.Once
}

// NewGuard creates a Guard.
func NewGuard(c Config) (*Guard, error) {
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.Sampler == nil {
		c.Sampler = ProcessRSS
	}

	limit := c.LimitMB * mb
	if limit == 0 {
		detected, source := DetectLimit()
		if detected == 0 {
			return nil, fmt.Errorf("resource guard: no memory limit configured and none detected")
		}
		limit = detected
		c.Logger.Info("detected memory limit", "limit_mb", limit/mb, "source", source)
	}

	if c.SetSoftLimit {
		soft := int64(float64(limit) * softLimitRatio)
		prev := debug.SetMemoryLimit(soft)
		c.Logger.Debug("set runtime soft memory limit", "soft_limit_mb", soft/mb, "previous_bytes", prev)
	}

	return &Guard{
		limitBytes: limit,
		interval:   c.SampleInterval,
		sampler:    c.Sampler,
		metrics:    c.Metrics,
		logger:     c.Logger,
		last: Snapshot{
			LimitMB: limit / mb,
			Status:  StatusHealthy,
		},
		drain: make(chan struct{}),
	}, nil
}

// Sample takes one reading and updates the guard's state.
func (g *Guard) Sample() (Snapshot, error) {
	rss, err := g.sampler()
	if err != nil {
		return g.Snapshot(), fmt.Errorf("sampling resident memory: %w", err)
	}

	snap := Snapshot{
		RSSMB:     rss / mb,
		LimitMB:   g.limitBytes / mb,
		Status:    Classify(rss, g.limitBytes),
		SampledAt: time.Now().UTC(),
	}

	g.mu.Lock()
	prev := g.last.Status
	g.last = snap
	g.mu.Unlock()

	g.metrics.SetRSS(rss)

	if snap.Status != prev {
		g.logger.Info("memory status changed",
			"from", prev,
			"to", snap.Status,
			"rss_mb", snap.RSSMB,
			"limit_mb", snap.LimitMB,
		)
	}

	if snap.Status == StatusCritical {
		g.drainOnce.Do(func() {
			g.critical.Store(true)
			g.logger.Warn("memory critical, signalling drain",
				"rss_mb", snap.RSSMB,
				"limit_mb", snap.LimitMB,
			)
			close(g.drain)
		})
	}
	return snap, nil
}

// Run samples on the configured interval until ctx is done or the guard has
// signalled drain.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		if _, err := g.Sample(); err != nil {
			g.logger.Warn("resource sample failed", "error", err)
		}
		if g.critical.Load() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain is closed once memory has been observed at or above the limit.
func (g *Guard) Drain() <-chan struct{} {
	return g.drain
}

// Snapshot returns the most recent reading.
func (g *Guard) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.last
}

// LimitBytes returns the effective hard limit.
func (g *Guard) LimitBytes() uint64 {
	return g.limitBytes
}
