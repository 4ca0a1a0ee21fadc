package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/memwal/pkg/logger"
	"github.com/papercomputeco/memwal/pkg/metrics"
	"github.com/papercomputeco/memwal/pkg/wal"
)

const (
	DefaultStaleAfter   = 10 * time.Minute
	DefaultReapInterval = time.Minute
)

// ReaperConfig holds the settings of a Reaper.
type ReaperConfig struct {
	Store   wal.Store
	Tenants []string

	// StaleAfter is how long a claim may go without an update before it is
	// considered abandoned.
	StaleAfter time.Duration

	// Interval is the time between sweeps.
	Interval time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Reaper returns entries claimed by crashed workers to pending. It runs on
// its own schedule, independent of any worker's lifetime, and contends with
// Claim through the store's row locking.
type Reaper struct {
	store      wal.Store
	tenants    []string
	staleAfter time.Duration
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewReaper creates a Reaper.
func NewReaper(c ReaperConfig) (*Reaper, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("reaper: store is required")
	}
	if len(c.Tenants) == 0 {
		return nil, fmt.Errorf("reaper: at least one tenant is required")
	}
	for _, t := range c.Tenants {
		if t == "" {
			return nil, wal.ErrEmptyTenant
		}
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.Interval <= 0 {
		c.Interval = DefaultReapInterval
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return &Reaper{
		store:      c.Store,
		tenants:    append([]string(nil), c.Tenants...),
		staleAfter: c.StaleAfter,
		interval:   c.Interval,
		metrics:    c.Metrics,
		logger:     c.Logger,
	}, nil
}

// Sweep reaps every tenant once and returns the total reaped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, tenant := range r.tenants {
		n, err := r.store.Reap(ctx, tenant, r.staleAfter)
		if err != nil {
			errs = append(errs, fmt.Errorf("reaping tenant %s: %w", tenant, err))
			continue
		}
		if n > 0 {
			r.metrics.AddReaped(tenant, n)
			r.logger.Warn("reaped stale claims",
				"tenant", tenant,
				"count", n,
				"stale_after", r.staleAfter,
			)
		}
		total += n
	}
	return total, errors.Join(errs...)
}

// Run sweeps immediately and then every Interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started",
		"tenants", r.tenants,
		"interval", r.interval,
		"stale_after", r.staleAfter,
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reap sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
