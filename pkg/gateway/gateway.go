// Package gateway is the fast path: it turns an inbound interaction into a
// durable WAL entry and returns. It never waits on consolidation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/memwal/pkg/dispatch"
	"github.com/papercomputeco/memwal/pkg/extraction"
	"github.com/papercomputeco/memwal/pkg/logger"
	"github.com/papercomputeco/memwal/pkg/metrics"
	"github.com/papercomputeco/memwal/pkg/wal"
)

const (
	DefaultAppendTimeout = 100 * time.Millisecond
	DefaultNotifyTimeout = 50 * time.Millisecond
	DefaultTimeBucket    = time.Minute
)

// ErrInvalidRequest is returned for interactions that can never be
// consolidated. Nothing is appended.
var ErrInvalidRequest = errors.New("invalid interaction")

// Config holds the settings of a Gateway.
type Config struct {
	Store wal.Store

	// Signal is optional. Notifications are best effort.
	Signal dispatch.Signal

	// AppendTimeout bounds the durable append.
	AppendTimeout time.Duration

	// NotifyTimeout bounds the dispatch signal sent after an append.
	NotifyTimeout time.Duration

	// TimeBucket is the window within which redeliveries of the same
	// interaction collapse onto one idempotency key.
	TimeBucket time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Gateway appends interactions to the WAL.
type Gateway struct {
	store         wal.Store
	signal        dispatch.Signal
	appendTimeout time.Duration
	notifyTimeout time.Duration
	bucket        time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
	clock         func() time.Time
}

// Request is one inbound interaction.
type Request struct {
	Tenant string

	// IdempotencyKey overrides the derived key when the caller has a stable
	// delivery id of its own.
	IdempotencyKey string

	Interaction extraction.Interaction
	Metadata    map[string]any
}

// Result acknowledges a durable append.
type Result struct {
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotency_key"`

	// Duplicate is true when the key was already present and nothing new
	// was written.
	Duplicate bool `json:"duplicate"`
}

// New creates a Gateway.
func New(c Config) (*Gateway, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("gateway: store is required")
	}
	if c.AppendTimeout <= 0 {
		c.AppendTimeout = DefaultAppendTimeout
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = DefaultNotifyTimeout
	}
	if c.TimeBucket <= 0 {
		c.TimeBucket = DefaultTimeBucket
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return &Gateway{
		store:         c.Store,
		signal:        c.Signal,
		appendTimeout: c.AppendTimeout,
		notifyTimeout: c.NotifyTimeout,
		bucket:        c.TimeBucket,
		metrics:       c.Metrics,
		logger:        c.Logger,
		clock:         c.Clock,
	}, nil
}

// Ingest appends req and returns once the entry is durable. A redelivery
// returns the original entry id with Duplicate set.
func (g *Gateway) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.Tenant == "" {
		return nil, wal.ErrEmptyTenant
	}

	in := req.Interaction
	if in.OccurredAt.IsZero() {
		in.OccurredAt = g.clock()
	}
	in.OccurredAt = in.OccurredAt.UTC()
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = wal.IdempotencyKey(req.Tenant, in.Actor, in.Channel, in.Content, in.OccurredAt, g.bucket)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, g.appendTimeout)
	id, created, err := g.store.Append(actx, wal.AppendRequest{
		Tenant:         req.Tenant,
		IdempotencyKey: key,
		Payload:        payload,
		Metadata:       req.Metadata,
	})
	cancel()
	if err != nil {
		g.metrics.IncAppendError(req.Tenant)
		g.logger.Error("wal append failed", "tenant", req.Tenant, "error", err)
		return nil, fmt.Errorf("appending to wal: %w", err)
	}
	g.metrics.ObserveAppend(req.Tenant, created, time.Since(start))

	if created {
		g.notify(ctx, req.Tenant, id)
	} else {
		g.logger.Debug("duplicate interaction", "tenant", req.Tenant, "entry_id", id)
	}

	return &Result{ID: id, IdempotencyKey: key, Duplicate: !created}, nil
}

func (g *Gateway) notify(ctx context.Context, tenant, id string) {
	if g.signal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, g.notifyTimeout)
	defer cancel()
	if err := g.signal.Notify(ctx, dispatch.NewAppended(tenant, id, g.clock())); err != nil {
		g.logger.Warn("dispatch notify failed", "tenant", tenant, "entry_id", id, "error", err)
	}
}
