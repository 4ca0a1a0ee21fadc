// Package workercmder provides the worker command, which runs one
// consolidation worker over the configured tenants.
package workercmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/memwal/api"
	"github.com/papercomputeco/memwal/pkg/bootstrap"
	"github.com/papercomputeco/memwal/pkg/config"
	"github.com/papercomputeco/memwal/pkg/consolidate"
	"github.com/papercomputeco/memwal/pkg/health"
	"github.com/papercomputeco/memwal/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type workerCommander struct {
	flags workerFlags

	withReaper  bool
	watchConfig bool
	logFile     string

	configDir string
	viper     *viper.Viper
	cfg       *config.Config
	logger    *slog.Logger
}

type workerFlags struct {
	workerID          string
	tenants           []string
	batchSize         uint
	healthListen      string
	storageDriver     string
	sqlitePath        string
	postgresDSN       string
	libsqlURL         string
	dispatchProvider  string
	redisAddr         string
	kafkaBrokers      []string
	extractionProv    string
	extractionTarget  string
	archiveProvider   string
	vectorProvider    string
	memoryLimit       uint
	staleClaimTimeout string
	reapInterval      string
}

var workerFlagKeys = []string{
	config.FlagWorkerID,
	config.FlagTenants,
	config.FlagBatchSize,
	config.FlagHealthListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagLibSQLURL,
	config.FlagDispatchProvider,
	config.FlagRedisAddr,
	config.FlagKafkaBrokers,
	config.FlagExtractionProv,
	config.FlagExtractionTarget,
	config.FlagArchiveProvider,
	config.FlagVectorProvider,
	config.FlagMemoryLimit,
	config.FlagStaleClaimTimeout,
	config.FlagReapInterval,
}

const workerLongDesc string = `Run a consolidation worker.

The worker claims pending WAL entries for each configured tenant, sends them
through extraction and salience scoring, writes memory records, and
checkpoints its progress. Any number of workers may share a store; claims
are exclusive and fenced by worker id.

When memory pressure turns critical the worker finishes its current batch,
releases unprocessed claims and exits with status 3 so a supervisor can
restart it.

A small HTTP listener serves /health and /metrics on --health-listen.`

const workerShortDesc string = "Run a consolidation worker"

func NewWorkerCmd() *cobra.Command {
	cmder := &workerCommander{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: workerShortDesc,
		Long:  workerLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			v, cfg, err := config.Resolve(cmd, workerFlagKeys)
			if err != nil {
				return err
			}
			cmder.viper = v
			cmder.cfg = cfg
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			jsonLogs, _ := cmd.Flags().GetBool("log-json")
			cmder.logger = logger.New(logger.WithDebug(debug), logger.WithJSON(jsonLogs), logger.WithPretty(!jsonLogs), logger.WithService("worker"))

			if cmder.logFile != "" {
				f, err := os.OpenFile(cmder.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("opening log file: %w", err)
				}
				defer f.Close()
				cmder.logger = logger.Tee(cmder.logger,
					logger.New(logger.WithDebug(debug), logger.WithJSON(true), logger.WithWriter(f), logger.WithService("worker")))
			}

			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagWorkerID, &cmder.flags.workerID)
	config.AddStringSliceFlag(cmd, config.Flags, config.FlagTenants, &cmder.flags.tenants)
	config.AddUintFlag(cmd, config.Flags, config.FlagBatchSize, &cmder.flags.batchSize)
	config.AddStringFlag(cmd, config.Flags, config.FlagHealthListen, &cmder.flags.healthListen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.flags.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.flags.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.flags.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagLibSQLURL, &cmder.flags.libsqlURL)
	config.AddStringFlag(cmd, config.Flags, config.FlagDispatchProvider, &cmder.flags.dispatchProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagRedisAddr, &cmder.flags.redisAddr)
	config.AddStringSliceFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.flags.kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagExtractionProv, &cmder.flags.extractionProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagExtractionTarget, &cmder.flags.extractionTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagArchiveProvider, &cmder.flags.archiveProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorProvider, &cmder.flags.vectorProvider)
	config.AddUintFlag(cmd, config.Flags, config.FlagMemoryLimit, &cmder.flags.memoryLimit)
	config.AddStringFlag(cmd, config.Flags, config.FlagStaleClaimTimeout, &cmder.flags.staleClaimTimeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagReapInterval, &cmder.flags.reapInterval)
	cmd.Flags().BoolVar(&cmder.withReaper, "reaper", false, "Also run the stale claim reaper in this process")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also append JSON logs to this file")
	cmd.Flags().BoolVar(&cmder.watchConfig, "watch-config", false, "Reload salience and retry settings when config.toml changes")

	return cmd
}

func (c *workerCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	live := config.NewLive(c.cfg)
	if c.watchConfig {
		if c.viper.ConfigFileUsed() == "" {
			c.logger.Warn("--watch-config set but no config file was loaded")
		} else {
			live.Watch(c.viper, c.logger, nil)
		}
	}

	m, reg, err := bootstrap.NewMetrics()
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sig, err := bootstrap.OpenSignal(ctx, c.cfg, true, c.logger)
	if err != nil {
		return err
	}
	defer sig.Close()

	guard, err := bootstrap.NewGuard(c.cfg, m, c.logger)
	if err != nil {
		return err
	}

	w, closeWorker, err := bootstrap.NewWorker(ctx, bootstrap.WorkerDeps{
		Live:    live,
		Store:   store,
		Signal:  sig,
		Drain:   guard.Drain(),
		Metrics: m,
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}
	defer closeWorker()

	checker, err := health.NewChecker(health.Config{
		Store:   store,
		Guard:   guard,
		Tenants: c.cfg.Worker.Tenants,
		State:   func() string { return w.State().String() },
		Metrics: m,
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.Config{
		ListenAddr: c.cfg.Worker.HealthListen,
		Health:     checker,
		Gatherer:   reg,
	}, c.logger)
	if err != nil {
		return err
	}

	var reaper *consolidate.Reaper
	if c.withReaper {
		reaper, err = bootstrap.NewReaper(c.cfg, store, m, c.logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return guard.Run(gctx) })
	g.Go(server.Run)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	if reaper != nil {
		g.Go(func() error { return reaper.Run(gctx) })
	}

	c.logger.Info("worker starting",
		"worker_id", w.ID(),
		"tenants", c.cfg.Worker.Tenants,
		"health_listen", c.cfg.Worker.HealthListen,
		"memory_limit_mb", guard.LimitBytes()/(1024*1024),
	)

	// The worker exiting, drained or not, stops the health listener too.
	g.Go(func() error {
		err := w.Run(gctx)
		if err == nil {
			stop()
		}
		return err
	})

	return g.Wait()
}
