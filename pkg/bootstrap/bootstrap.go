// Package bootstrap assembles memwal's long-running components from a
// resolved Config. The serve, worker and reaper commands share it so a
// gateway with an embedded worker is wired exactly like a standalone one.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/papercomputeco/memwal/pkg/config"
	"github.com/papercomputeco/memwal/pkg/consolidate"
	"github.com/papercomputeco/memwal/pkg/dispatch"
	dispatchutils "github.com/papercomputeco/memwal/pkg/dispatch/utils"
	extractionutils "github.com/papercomputeco/memwal/pkg/extraction/utils"
	"github.com/papercomputeco/memwal/pkg/gateway"
	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/memory/coldstore"
	"github.com/papercomputeco/memwal/pkg/metrics"
	"github.com/papercomputeco/memwal/pkg/resource"
	"github.com/papercomputeco/memwal/pkg/salience"
	"github.com/papercomputeco/memwal/pkg/storage"
	storageutils "github.com/papercomputeco/memwal/pkg/storage/utils"
	vectorutils "github.com/papercomputeco/memwal/pkg/vector/utils"
)

// NewMetrics creates a registry with the Go runtime and process collectors
// plus the memwal collectors.
func NewMetrics() (*metrics.Metrics, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("registering metrics: %w", err)
	}
	return m, reg, nil
}

// OpenStore opens the configured storage backend.
func OpenStore(ctx context.Context, cfg *config.Config, configDir string, log *slog.Logger) (storage.Driver, error) {
	return storageutils.NewDriver(ctx, &storageutils.NewDriverOpts{
		Driver:      cfg.Storage.Driver,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
		LibSQLURL:   cfg.Storage.LibSQLURL,
		ConfigDir:   configDir,
		Logger:      log,
	})
}

// OpenSignal opens the configured dispatch signal. Workers subscribe;
// gateways only send.
func OpenSignal(ctx context.Context, cfg *config.Config, subscribe bool, log *slog.Logger) (dispatch.Signal, error) {
	return dispatchutils.NewSignal(ctx, &dispatchutils.NewSignalOpts{
		ProviderType: cfg.Dispatch.Provider,
		RedisAddr:    cfg.Dispatch.RedisAddr,
		KafkaBrokers: cfg.Dispatch.KafkaBrokers,
		KafkaTopic:   cfg.Dispatch.KafkaTopic,
		KafkaGroup:   cfg.Dispatch.KafkaGroup,
		Subscribe:    subscribe,
		Logger:       log,
	})
}

// NewGateway builds the ingestion gateway.
func NewGateway(cfg *config.Config, store storage.Driver, signal dispatch.Signal, m *metrics.Metrics, log *slog.Logger) (*gateway.Gateway, error) {
	return gateway.New(gateway.Config{
		Store:         store,
		Signal:        signal,
		AppendTimeout: cfg.Gateway.AppendTimeout.Duration,
		TimeBucket:    cfg.Gateway.TimeBucket.Duration,
		Metrics:       m,
		Logger:        log,
	})
}

// NewGuard builds the resource guard and installs the runtime soft limit.
func NewGuard(cfg *config.Config, m *metrics.Metrics, log *slog.Logger) (*resource.Guard, error) {
	return resource.NewGuard(resource.Config{
		LimitMB:        cfg.Resource.MemoryLimitMB,
		SampleInterval: cfg.Resource.SampleInterval.Duration,
		SetSoftLimit:   true,
		Metrics:        m,
		Logger:         log,
	})
}

// Settings resolves per-tenant worker settings from the current value of
// live, so a reloaded config applies from the next cycle on.
func Settings(live *config.Live) consolidate.SettingsFunc {
	return func(tenant string) (consolidate.TenantSettings, error) {
		ts, err := live.Load().Tenant(tenant)
		if err != nil {
			return consolidate.TenantSettings{}, err
		}
		scorer, err := salience.NewScorer(ts.Salience)
		if err != nil {
			return consolidate.TenantSettings{}, fmt.Errorf("tenant %s: %w", tenant, err)
		}
		return consolidate.TenantSettings{
			MaxRetries:         ts.MaxRetries,
			CheckpointInterval: ts.CheckpointInterval,
			Scorer:             scorer,
			DefaultScore:       ts.DefaultScore,
		}, nil
	}
}

// WorkerDeps are the shared pieces a Worker is built on.
type WorkerDeps struct {
	Live    *config.Live
	Store   storage.Driver
	Signal  dispatch.Signal
	Drain   <-chan struct{}
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewWorker builds a consolidation worker with its extraction client, cold
// store and vector index. The returned close func releases the collaborators
// the worker owns; the store and signal stay with the caller.
func NewWorker(ctx context.Context, d WorkerDeps) (*consolidate.Worker, func() error, error) {
	cfg := d.Live.Load()
	if len(cfg.Worker.Tenants) == 0 {
		return nil, nil, fmt.Errorf("no tenants configured: set worker.tenants or pass --tenants")
	}

	extractor, err := extractionutils.NewExtractor(&extractionutils.NewExtractorOpts{
		ProviderType: cfg.Extraction.Provider,
		TargetURL:    cfg.Extraction.Target,
		Timeout:      cfg.Extraction.Timeout.Duration,
	})
	if err != nil {
		return nil, nil, err
	}

	cold, err := coldstore.New(ctx, &coldstore.NewOpts{
		ProviderType: cfg.Archive.Provider,
		S3: coldstore.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Bucket:    cfg.Archive.Bucket,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Secure:    cfg.Archive.Secure,
		},
	})
	if err != nil {
		return nil, nil, errors.Join(err, extractor.Close())
	}
	if cfg.Archive.Provider == "memory" {
		d.Logger.Warn("archived originals are kept in memory and lost on restart")
	}

	index, err := vectorutils.NewVectorIndex(ctx, &vectorutils.NewVectorIndexOpts{
		ProviderType: cfg.Vector.Provider,
		TargetURL:    cfg.Vector.Target,
		Collection:   cfg.Vector.Collection,
		Logger:       d.Logger,
	})
	if err != nil {
		return nil, nil, errors.Join(err, extractor.Close())
	}
	closeAll := func() error {
		return errors.Join(extractor.Close(), index.Close())
	}

	archiver, err := memory.NewArchiver(memory.ArchiverConfig{
		Records:    d.Store,
		Cold:       cold,
		Summarizer: memory.TruncatingSummarizer{MaxChars: cfg.Archive.SummaryMaxChars},
		Evictor:    index,
		Logger:     d.Logger,
	})
	if err != nil {
		return nil, nil, errors.Join(err, closeAll())
	}

	w, err := consolidate.NewWorker(consolidate.Config{
		Store:        d.Store,
		Extractor:    extractor,
		Archiver:     archiver,
		Signal:       d.Signal,
		Drain:        d.Drain,
		Tenants:      cfg.Worker.Tenants,
		Settings:     Settings(d.Live),
		WorkerID:     cfg.Worker.ID,
		BatchSize:    cfg.Worker.BatchSize,
		PollInterval: cfg.Worker.PollInterval.Duration,
		SweepLimit:   cfg.Worker.SweepLimit,
		Metrics:      d.Metrics,
		Logger:       d.Logger,
	})
	if err != nil {
		return nil, nil, errors.Join(err, closeAll())
	}
	return w, closeAll, nil
}

// NewReaper builds a reaper over the configured tenants.
func NewReaper(cfg *config.Config, store storage.Driver, m *metrics.Metrics, log *slog.Logger) (*consolidate.Reaper, error) {
	if len(cfg.Worker.Tenants) == 0 {
		return nil, fmt.Errorf("no tenants configured: set worker.tenants or pass --tenants")
	}
	return consolidate.NewReaper(consolidate.ReaperConfig{
		Store:      store,
		Tenants:    cfg.Worker.Tenants,
		StaleAfter: cfg.WAL.StaleClaimTimeout.Duration,
		Interval:   cfg.WAL.ReapInterval.Duration,
		Metrics:    m,
		Logger:     log,
	})
}
