package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/papercomputeco/memwal/pkg/checkpoint"
	"github.com/papercomputeco/memwal/pkg/dispatch"
	"github.com/papercomputeco/memwal/pkg/extraction"
	"github.com/papercomputeco/memwal/pkg/logger"
	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/metrics"
	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/wal"
)

const (
	DefaultBatchSize    = 25
	DefaultPollInterval = 5 * time.Second
	DefaultSweepLimit   = 50

	// shutdownTimeout bounds the release and checkpoint flush on the way out.
	shutdownTimeout = 30 * time.Second
)

// errStop unwinds the loop once a drain or cancellation has been observed.
var errStop = errors.New("worker stopping")

// Config holds the collaborators and knobs of a Worker.
type Config struct {
	Store     storage.Driver
	Extractor extraction.Extractor

	// Archiver is optional. Without it the archive sweep is skipped.
	Archiver *memory.Archiver

	// Signal is optional. Without it the worker only polls.
	Signal dispatch.Signal

	// Drain is closed by the resource guard when memory turns critical.
	Drain <-chan struct{}

	// Tenants the worker consolidates, visited round-robin each cycle.
	Tenants []string

	// Settings defaults to DefaultSettings.
	Settings SettingsFunc

	// WorkerID defaults to a random uuid.
	WorkerID string

	BatchSize    int
	PollInterval time.Duration
	SweepLimit   int

	// Retry is the backoff policy for store round-trips.
	Retry func() backoff.BackOff

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Worker claims and consolidates WAL entries in a loop.
type Worker struct {
	store     storage.Driver
	extractor extraction.Extractor
	archiver  *memory.Archiver
	wake      <-chan dispatch.Event
	drain     <-chan struct{}
	tenants   []string
	settings  SettingsFunc

	id         string
	batchSize  int
	poll       time.Duration
	sweepLimit int
	retry      func() backoff.BackOff

	metrics *metrics.Metrics
	logger  *slog.Logger
	clock   func() time.Time

	state     atomic.Int32
	processed atomic.Int64

	checkpoints map[string]*checkpoint.Manager
	lastSweep   map[string]time.Time
}

// NewWorker validates c and creates a Worker.
func NewWorker(c Config) (*Worker, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("consolidate: store is required")
	}
	if c.Extractor == nil {
		return nil, fmt.Errorf("consolidate: extractor is required")
	}
	if len(c.Tenants) == 0 {
		return nil, fmt.Errorf("consolidate: at least one tenant is required")
	}
	for _, t := range c.Tenants {
		if t == "" {
			return nil, wal.ErrEmptyTenant
		}
	}
	if c.Settings == nil {
		c.Settings = DefaultSettings
	}
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = DefaultSweepLimit
	}
	if c.Retry == nil {
		c.Retry = NewStoreBackoff(DefaultRetryInitialInterval, DefaultRetryMaxElapsed)
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}

	w := &Worker{
		store:       c.Store,
		extractor:   c.Extractor,
		archiver:    c.Archiver,
		drain:       c.Drain,
		tenants:     append([]string(nil), c.Tenants...),
		settings:    c.Settings,
		id:          c.WorkerID,
		batchSize:   c.BatchSize,
		poll:        c.PollInterval,
		sweepLimit:  c.SweepLimit,
		retry:       c.Retry,
		metrics:     c.Metrics,
		logger:      c.Logger,
		clock:       c.Clock,
		checkpoints: make(map[string]*checkpoint.Manager),
		lastSweep:   make(map[string]time.Time),
	}
	if c.Signal != nil {
		w.wake = c.Signal.Wake()
	}
	return w, nil
}

// ID returns the worker id written to claimed entries.
func (w *Worker) ID() string {
	return w.id
}

// State returns the current loop state. Safe for concurrent use.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Processed returns the number of entries this worker finalized.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run loops until ctx is cancelled or the drain channel closes. It returns
// ErrDrained after a drain and nil after cancellation.
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(StateExited)

	w.logger.Info("consolidation worker started",
		"worker_id", w.id,
		"tenants", w.tenants,
		"batch_size", w.batchSize,
	)

	for {
		if w.stopping(ctx) {
			return w.shutdown(ctx)
		}

		busy, err := w.cycle(ctx)
		if errors.Is(err, errStop) {
			return w.shutdown(ctx)
		}
		if err != nil {
			w.logger.Error("consolidation cycle failed", "worker_id", w.id, "error", err)
		}
		if busy {
			continue
		}

		w.setState(StateIdle)
		if !w.wait(ctx) {
			return w.shutdown(ctx)
		}
	}
}

func (w *Worker) drainRequested() bool {
	select {
	case <-w.drain:
		return true
	default:
		return false
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || w.drainRequested()
}

// wait parks the worker until a dispatch signal, the poll interval, a drain
// or cancellation. It returns false when the worker should stop.
func (w *Worker) wait(ctx context.Context) bool {
	timer := time.NewTimer(w.poll)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.drain:
		return false
	case ev, ok := <-w.wake:
		if !ok {
			w.wake = nil
			return true
		}
		w.logger.Debug("woken by dispatch signal", "tenant", ev.Tenant, "entry_id", ev.EntryID)
		return true
	case <-timer.C:
		return true
	}
}

// cycle visits every tenant once. It reports whether any entries were
// claimed, in which case the caller loops again without sleeping.
func (w *Worker) cycle(ctx context.Context) (bool, error) {
	busy := false
	var errs []error
	for _, tenant := range w.tenants {
		if w.stopping(ctx) {
			return busy, errStop
		}
		n, err := w.runTenant(ctx, tenant)
		if n > 0 {
			busy = true
		}
		if errors.Is(err, errStop) {
			return busy, err
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenant, err))
		}
	}
	return busy, errors.Join(errs...)
}

func (w *Worker) runTenant(ctx context.Context, tenant string) (int, error) {
	set, err := w.settings(tenant)
	if err != nil {
		return 0, fmt.Errorf("resolving settings: %w", err)
	}

	w.setState(StateClaiming)
	entries, err := withRetry(ctx, w.retry, func() ([]*wal.Entry, error) {
		return w.store.Claim(ctx, wal.ClaimRequest{
			Tenant:    tenant,
			BatchSize: w.batchSize,
			WorkerID:  w.id,
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, errStop
		}
		return 0, fmt.Errorf("claiming batch: %w", err)
	}
	w.metrics.AddClaimed(tenant, len(entries))

	if len(entries) > 0 {
		w.logger.Debug("claimed batch",
			"tenant", tenant,
			"worker_id", w.id,
			"count", len(entries),
		)
		if err := w.processBatch(ctx, tenant, set, entries); err != nil {
			return len(entries), err
		}
	}

	w.sweep(ctx, tenant, set, len(entries) > 0)
	return len(entries), nil
}

// processBatch consolidates entries in claim order. When a stop is observed
// between entries, the unstarted remainder is released.
func (w *Worker) processBatch(ctx context.Context, tenant string, set TenantSettings, entries []*wal.Entry) error {
	finalized := make([]string, 0, len(entries))
	var stop error

	for i, e := range entries {
		if w.stopping(ctx) {
			w.release(ctx, tenant, entries[i:])
			stop = errStop
			break
		}
		w.setState(StateProcessing)
		if !w.heartbeat(ctx, tenant, entries[i:]) {
			continue
		}
		if w.handle(ctx, tenant, set, e) {
			finalized = append(finalized, e.ID)
		}
	}

	w.setState(StateCheckpointing)
	w.checkpoint(context.WithoutCancel(ctx), tenant, set, finalized)
	return stop
}

// heartbeat refreshes the claims on the unfinished part of the batch so a
// long batch is not reaped while this worker is still on it. It reports
// whether the first entry is still held. A store error keeps the entry: the
// fenced Complete or Fail decides ownership in the end.
func (w *Worker) heartbeat(ctx context.Context, tenant string, remaining []*wal.Entry) bool {
	ctx = context.WithoutCancel(ctx)
	ids := make([]string, len(remaining))
	for i, e := range remaining {
		ids[i] = e.ID
	}

	held, err := withRetry(ctx, w.retry, func() ([]string, error) {
		return w.store.Touch(ctx, tenant, ids, w.id)
	})
	if err != nil {
		w.logger.Warn("failed to refresh claims", "tenant", tenant, "worker_id", w.id, "error", err)
		return true
	}
	if slices.Contains(held, ids[0]) {
		return true
	}
	w.logger.Warn("claim lost before processing started",
		"tenant", tenant,
		"entry_id", ids[0],
		"worker_id", w.id,
	)
	return false
}

// handle runs one entry to a terminal or requeued state. The entry is
// finished even if ctx is cancelled mid-way; there is no mid-entry
// cancellation. It reports whether the entry was finalized.
func (w *Worker) handle(ctx context.Context, tenant string, set TenantSettings, e *wal.Entry) bool {
	ctx = context.WithoutCancel(ctx)
	log := w.logger.With("tenant", tenant, "entry_id", e.ID, "worker_id", w.id)

	perr := w.consolidate(ctx, tenant, set, e)
	if perr == nil {
		ok, err := withRetry(ctx, w.retry, func() (bool, error) {
			return w.store.Complete(ctx, tenant, e.ID, w.id)
		})
		if err != nil {
			log.Error("failed to complete entry, leaving it for the reaper", "error", err)
			return false
		}
		if !ok {
			log.Warn("claim lost before completion")
			return false
		}
		w.metrics.IncCompleted(tenant)
		w.processed.Add(1)
		return true
	}

	class := wal.ClassOf(perr)
	ok, err := withRetry(ctx, w.retry, func() (bool, error) {
		return w.store.Fail(ctx, wal.FailRequest{
			Tenant:     tenant,
			ID:         e.ID,
			WorkerID:   w.id,
			Reason:     perr.Error(),
			Class:      class,
			MaxRetries: set.MaxRetries,
		})
	})
	if err != nil {
		log.Error("failed to record entry failure, leaving it for the reaper",
			"cause", perr,
			"error", err,
		)
		return false
	}
	if !ok {
		log.Warn("claim lost before failure was recorded", "cause", perr)
		return false
	}

	terminal := wal.ApplyFailure(e.RetryCount, set.MaxRetries, class, w.clock()).Terminal
	w.metrics.IncFailed(tenant, class.String(), terminal)
	if !terminal {
		log.Warn("entry failed, requeued with backoff",
			"class", class.String(),
			"retry_count", e.RetryCount+1,
			"error", perr,
		)
		return false
	}

	log.Error("entry dead-lettered",
		"class", class.String(),
		"retry_count", e.RetryCount,
		"error", perr,
	)
	w.processed.Add(1)
	return true
}

func (w *Worker) release(ctx context.Context, tenant string, entries []*wal.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	n, err := withRetry(ctx, w.retry, func() (int, error) {
		return w.store.Release(ctx, tenant, ids, w.id)
	})
	if err != nil {
		w.logger.Error("failed to release unstarted entries, leaving them for the reaper",
			"tenant", tenant,
			"worker_id", w.id,
			"count", len(ids),
			"error", err,
		)
		return
	}
	w.metrics.AddReleased(tenant, n)
	w.logger.Info("released unstarted entries", "tenant", tenant, "worker_id", w.id, "count", n)
}

func (w *Worker) manager(tenant string, set TenantSettings) (*checkpoint.Manager, error) {
	if m, ok := w.checkpoints[tenant]; ok {
		m.SetInterval(set.CheckpointInterval)
		return m, nil
	}
	m, err := checkpoint.NewManager(checkpoint.Config{
		Store:    w.store,
		Tenant:   tenant,
		WorkerID: w.id,
		Interval: set.CheckpointInterval,
		Clock:    w.clock,
		Logger:   w.logger,
	})
	if err != nil {
		return nil, err
	}
	w.checkpoints[tenant] = m
	return m, nil
}

func (w *Worker) checkpoint(ctx context.Context, tenant string, set TenantSettings, finalized []string) {
	if len(finalized) == 0 {
		return
	}
	m, err := w.manager(tenant, set)
	if err != nil {
		w.logger.Error("failed to create checkpoint manager", "tenant", tenant, "error", err)
		return
	}
	for _, id := range finalized {
		cp, err := m.Finalized(ctx, id)
		if err != nil {
			w.logger.Warn("failed to write checkpoint", "tenant", tenant, "worker_id", w.id, "error", err)
			continue
		}
		if cp != nil {
			w.metrics.IncCheckpoints(tenant)
		}
	}
}

// shutdown flushes partial checkpoints and reports how the loop ended.
func (w *Worker) shutdown(ctx context.Context) error {
	w.setState(StateDraining)
	drained := w.drainRequested()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for tenant, m := range w.checkpoints {
		cp, err := m.Flush(fctx)
		if err != nil {
			w.logger.Warn("failed to flush checkpoint", "tenant", tenant, "worker_id", w.id, "error", err)
			continue
		}
		if cp != nil {
			w.metrics.IncCheckpoints(tenant)
		}
	}

	w.logger.Info("consolidation worker stopped",
		"worker_id", w.id,
		"processed", w.processed.Load(),
		"drained", drained,
	)
	if drained {
		return ErrDrained
	}
	return nil
}
