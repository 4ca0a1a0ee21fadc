// Package health composes the worker health surface from the storage
// backend, the resource guard and the WAL backlog.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/memwal/pkg/logger"
	"github.com/papercomputeco/memwal/pkg/metrics"
	"github.com/papercomputeco/memwal/pkg/resource"
	"github.com/papercomputeco/memwal/pkg/wal"
)

// DefaultTimeout bounds a single health check.
const DefaultTimeout = 2 * time.Second

// Store is the part of storage.Driver a health check needs.
type Store interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context, tenant string) (*wal.Stats, error)
}

// Report is the health surface of a process.
type Report struct {
	DependencyConnected bool            `json:"dependency_connected"`
	MemoryRSSMB         uint64          `json:"memory_rss_mb"`
	MemoryLimitMB       uint64          `json:"memory_limit_mb"`
	MemoryStatus        resource.Status `json:"memory_status"`

	// QueueDepth is the number of pending entries across the checked tenants.
	QueueDepth int `json:"queue_depth"`

	WorkerState string   `json:"worker_state,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// Healthy is false when the store is unreachable or memory is critical.
func (r Report) Healthy() bool {
	return r.DependencyConnected && r.MemoryStatus != resource.StatusCritical
}

// Config holds the inputs of a Checker.
type Config struct {
	Store Store

	// Guard is optional; without it memory is reported healthy with no limit.
	Guard *resource.Guard

	// Tenants whose pending entries count toward QueueDepth.
	Tenants []string

	// State reports the worker loop state, if any.
	State func() string

	Timeout time.Duration
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Checker builds Reports on demand.
type Checker struct {
	store   Store
	guard   *resource.Guard
	tenants []string
	state   func() string
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewChecker creates a Checker.
func NewChecker(c Config) (*Checker, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("health: store is required")
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return &Checker{
		store:   c.Store,
		guard:   c.Guard,
		tenants: append([]string(nil), c.Tenants...),
		state:   c.State,
		timeout: c.Timeout,
		metrics: c.Metrics,
		logger:  c.Logger,
	}, nil
}

// Check samples every input once.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	r := Report{MemoryStatus: resource.StatusHealthy}

	if c.guard != nil {
		snap := c.guard.Snapshot()
		r.MemoryRSSMB = snap.RSSMB
		r.MemoryLimitMB = snap.LimitMB
		r.MemoryStatus = snap.Status
	}
	if c.state != nil {
		r.WorkerState = c.state()
	}

	if err := c.store.Ping(ctx); err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("store: %v", err))
		c.logger.Warn("health check: store unreachable", "error", err)
		return r
	}
	r.DependencyConnected = true

	var errs []error
	for _, tenant := range c.tenants {
		stats, err := c.store.Stats(ctx, tenant)
		if err != nil {
			errs = append(errs, fmt.Errorf("stats for %s: %w", tenant, err))
			continue
		}
		r.QueueDepth += stats.Pending
		c.metrics.SetQueueDepth(tenant, stats.Pending)
	}
	if err := errors.Join(errs...); err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
	return r
}
