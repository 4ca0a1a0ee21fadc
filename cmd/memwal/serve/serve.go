// Package servecmder provides the serve command, which runs the ingestion
// API and, optionally, a consolidation worker in the same process.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/memwal/api"
	"github.com/papercomputeco/memwal/pkg/bootstrap"
	"github.com/papercomputeco/memwal/pkg/config"
	"github.com/papercomputeco/memwal/pkg/health"
	"github.com/papercomputeco/memwal/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	flags serveFlags

	withWorker bool
	configDir  string
	cfg        *config.Config
	logger     *slog.Logger
}

// serveFlags only exist so cobra has somewhere to write; values are read
// back through viper.
type serveFlags struct {
	listen           string
	storageDriver    string
	sqlitePath       string
	postgresDSN      string
	libsqlURL        string
	dispatchProvider string
	redisAddr        string
	kafkaBrokers     []string
	tenants          []string
}

var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagLibSQLURL,
	config.FlagDispatchProvider,
	config.FlagRedisAddr,
	config.FlagKafkaBrokers,
	config.FlagTenants,
}

const serveLongDesc string = `Run the memwal ingestion API.

POST /v1/tenants/<tenant>/interactions appends an interaction to the WAL and
returns 202 as soon as it is durable. Consolidation happens elsewhere: run
"memwal worker" separately, or pass --worker to consolidate in this process.

Endpoints:
  POST /v1/tenants/:tenant/interactions
  GET  /v1/tenants/:tenant/wal/stats|pending|failed|checkpoint
  GET  /health
  GET  /metrics`

const serveShortDesc string = "Run the ingestion API"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := config.Resolve(cmd, serveFlagKeys)
			if err != nil {
				return err
			}
			cmder.cfg = cfg
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			jsonLogs, _ := cmd.Flags().GetBool("log-json")
			cmder.logger = logger.New(logger.WithDebug(debug), logger.WithJSON(jsonLogs), logger.WithPretty(!jsonLogs), logger.WithService("gateway"))

			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.flags.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.flags.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.flags.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.flags.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagLibSQLURL, &cmder.flags.libsqlURL)
	config.AddStringFlag(cmd, config.Flags, config.FlagDispatchProvider, &cmder.flags.dispatchProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagRedisAddr, &cmder.flags.redisAddr)
	config.AddStringSliceFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.flags.kafkaBrokers)
	config.AddStringSliceFlag(cmd, config.Flags, config.FlagTenants, &cmder.flags.tenants)
	cmd.Flags().BoolVar(&cmder.withWorker, "worker", false, "Run a consolidation worker and reaper in this process")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, reg, err := bootstrap.NewMetrics()
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// An embedded worker subscribes to the same signal the gateway sends on,
	// which is what makes the default local provider useful.
	sig, err := bootstrap.OpenSignal(ctx, c.cfg, c.withWorker, c.logger)
	if err != nil {
		return fmt.Errorf("opening dispatch signal: %w", err)
	}
	defer sig.Close()

	gw, err := bootstrap.NewGateway(c.cfg, store, sig, m, c.logger)
	if err != nil {
		return err
	}

	var runners []func(context.Context) error
	healthCfg := health.Config{
		Store:   store,
		Tenants: c.cfg.Worker.Tenants,
		Metrics: m,
		Logger:  c.logger,
	}

	if c.withWorker {
		guard, err := bootstrap.NewGuard(c.cfg, m, c.logger)
		if err != nil {
			return err
		}
		healthCfg.Guard = guard

		w, closeWorker, err := bootstrap.NewWorker(ctx, bootstrap.WorkerDeps{
			Live:    config.NewLive(c.cfg),
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
		healthCfg.State = func() string { return w.State().String() }

		reaper, err := bootstrap.NewReaper(c.cfg, store, m, c.logger)
		if err != nil {
			return err
		}

		runners = append(runners, guard.Run, w.Run, reaper.Run)
	}

	checker, err := health.NewChecker(healthCfg)
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.Config{
		ListenAddr: c.cfg.Gateway.Listen,
		Gateway:    gw,
		Store:      store,
		Health:     checker,
		Gatherer:   reg,
	}, c.logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range runners {
		g.Go(func() error { return run(gctx) })
	}
	g.Go(server.Run)
	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	return g.Wait()
}
