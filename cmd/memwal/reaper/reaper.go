// Package reapercmder provides the reaper command, which returns claims
// abandoned by crashed workers to pending.
package reapercmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memwal/pkg/bootstrap"
	"github.com/papercomputeco/memwal/pkg/cliui"
	"github.com/papercomputeco/memwal/pkg/config"
	"github.com/papercomputeco/memwal/pkg/logger"
)

type reaperCommander struct {
	flags reaperFlags
	once  bool

	configDir string
	cfg       *config.Config
	logger    *slog.Logger
}

type reaperFlags struct {
	tenants           []string
	storageDriver     string
	sqlitePath        string
	postgresDSN       string
	libsqlURL         string
	staleClaimTimeout string
	reapInterval      string
}

var reaperFlagKeys = []string{
	config.FlagTenants,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagLibSQLURL,
	config.FlagStaleClaimTimeout,
	config.FlagReapInterval,
}

const reaperLongDesc string = `Run the stale claim reaper.

Entries stay in the processing state while a worker holds them. If a worker
dies mid-batch its claims are never released; the reaper finds claims older
than --stale-claim-timeout and returns them to pending so another worker can
pick them up.

Use --once to run a single sweep and exit.`

const reaperShortDesc string = "Return abandoned claims to pending"

func NewReaperCmd() *cobra.Command {
	cmder := &reaperCommander{}

	cmd := &cobra.Command{
		Use:   "reaper",
		Short: reaperShortDesc,
		Long:  reaperLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := config.Resolve(cmd, reaperFlagKeys)
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
			cmder.logger = logger.New(logger.WithDebug(debug), logger.WithJSON(jsonLogs), logger.WithPretty(!jsonLogs), logger.WithService("reaper"))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if cmder.once {
				return cmder.sweepOnce(ctx, cmd)
			}
			return cmder.run(ctx)
		},
	}

	config.AddStringSliceFlag(cmd, config.Flags, config.FlagTenants, &cmder.flags.tenants)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.flags.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.flags.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.flags.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagLibSQLURL, &cmder.flags.libsqlURL)
	config.AddStringFlag(cmd, config.Flags, config.FlagStaleClaimTimeout, &cmder.flags.staleClaimTimeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagReapInterval, &cmder.flags.reapInterval)
	cmd.Flags().BoolVar(&cmder.once, "once", false, "Run a single sweep and exit")

	return cmd
}

func (c *reaperCommander) run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, _, err := bootstrap.NewMetrics()
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reaper, err := bootstrap.NewReaper(c.cfg, store, m, c.logger)
	if err != nil {
		return err
	}
	return reaper.Run(ctx)
}

func (c *reaperCommander) sweepOnce(ctx context.Context, cmd *cobra.Command) error {
	store, err := bootstrap.OpenStore(ctx, c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reaper, err := bootstrap.NewReaper(c.cfg, store, nil, c.logger)
	if err != nil {
		return err
	}

	n, err := reaper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweeping stale claims: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Returned %d stale claim(s) to pending\n", cliui.SuccessMark, n)
	return nil
}
