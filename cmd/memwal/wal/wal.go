// Package walcmder provides read-only inspection of a tenant's WAL.
package walcmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memwal/pkg/bootstrap"
	"github.com/papercomputeco/memwal/pkg/cliui"
	"github.com/papercomputeco/memwal/pkg/config"
	"github.com/papercomputeco/memwal/pkg/logger"
	"github.com/papercomputeco/memwal/pkg/storage"
	"github.com/papercomputeco/memwal/pkg/utils"
	"github.com/papercomputeco/memwal/pkg/wal"
)

const (
	defaultLimit   = 20
	lastErrorWidth = 60
)

type walCommander struct {
	flags walFlags

	limit    int
	jsonOut  bool
	workerID string

	configDir string
	cfg       *config.Config
	logger    *slog.Logger
}

type walFlags struct {
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	libsqlURL     string
}

var walFlagKeys = []string{
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagLibSQLURL,
}

const walLongDesc string = `Inspect a tenant's write-ahead log.

These commands read the store directly and never modify it.

Examples:
  memwal wal stats acme
  memwal wal pending acme --limit 50
  memwal wal failed acme --json
  memwal wal checkpoint acme --worker-id worker-1`

const walShortDesc string = "Inspect a tenant's WAL"

func NewWALCmd() *cobra.Command {
	cmder := &walCommander{}

	cmd := &cobra.Command{
		Use:   "wal",
		Short: walShortDesc,
		Long:  walLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := config.Resolve(cmd, walFlagKeys)
			if err != nil {
				return err
			}
			cmder.cfg = cfg
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			// Storage chatter would interleave with the report, so logs stay
			// off unless --debug asks for them.
			cmder.logger = logger.Nop()
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cmder.logger = logger.New(logger.WithDebug(true), logger.WithWriter(cmd.ErrOrStderr()), logger.WithPretty(true))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&cmder.jsonOut, "json", false, "Write JSON instead of a table")

	for _, sub := range []*cobra.Command{
		cmder.newStatsCmd(),
		cmder.newListCmd("pending", "List entries waiting to be consolidated", (*walCommander).pending),
		cmder.newListCmd("failed", "List entries that exhausted their retries", (*walCommander).failed),
		cmder.newCheckpointCmd(),
	} {
		cmder.addStorageFlags(sub)
		cmd.AddCommand(sub)
	}

	return cmd
}

func (c *walCommander) addStorageFlags(cmd *cobra.Command) {
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &c.flags.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &c.flags.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &c.flags.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagLibSQLURL, &c.flags.libsqlURL)
}

func (c *walCommander) withStore(cmd *cobra.Command, fn func(context.Context, storage.Driver) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := bootstrap.OpenStore(ctx, c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

func (c *walCommander) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <tenant>",
		Short: "Show entry counts by status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, store storage.Driver) error {
				stats, err := store.Stats(ctx, args[0])
				if err != nil {
					return err
				}
				return c.writeStats(cmd.OutOrStdout(), args[0], stats)
			})
		},
	}
}

type listFunc func(c *walCommander, ctx context.Context, store storage.Driver, tenant string) ([]*wal.Entry, error)

func (c *walCommander) newListCmd(use, short string, list listFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <tenant>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", c.limit)
			}
			return c.withStore(cmd, func(ctx context.Context, store storage.Driver) error {
				entries, err := list(c, ctx, store, args[0])
				if err != nil {
					return err
				}
				return c.writeEntries(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().IntVar(&c.limit, "limit", defaultLimit, "Maximum number of entries to show")
	return cmd
}

func (c *walCommander) pending(ctx context.Context, store storage.Driver, tenant string) ([]*wal.Entry, error) {
	return store.Pending(ctx, tenant, c.limit)
}

func (c *walCommander) failed(ctx context.Context, store storage.Driver, tenant string) ([]*wal.Entry, error) {
	return store.Failed(ctx, tenant, c.limit)
}

func (c *walCommander) newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint <tenant>",
		Short: "Show the latest consolidation checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, store storage.Driver) error {
				cp, err := store.LatestCheckpoint(ctx, args[0], c.workerID)
				if errors.Is(err, wal.ErrNoCheckpoint) {
					fmt.Fprintf(cmd.OutOrStdout(), "No checkpoint recorded for %s\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				return c.writeCheckpoint(cmd.OutOrStdout(), cp)
			})
		},
	}
	cmd.Flags().StringVar(&c.workerID, "worker-id", "", "Only consider checkpoints written by this worker")
	return cmd
}

func (c *walCommander) writeStats(w io.Writer, tenant string, s *wal.Stats) error {
	if c.jsonOut {
		return writeJSON(w, s)
	}

	rows := [][]string{
		{"pending", strconv.Itoa(s.Pending)},
		{"processing", strconv.Itoa(s.Processing)},
		{"completed", strconv.Itoa(s.Completed)},
		{"failed", strconv.Itoa(s.Failed)},
		{"total", strconv.Itoa(s.Total)},
	}
	if s.OldestPendingAt != nil {
		rows = append(rows, []string{"oldest pending", cliui.FormatDuration(time.Since(*s.OldestPendingAt)) + " ago"})
	}

	return writeMarkdown(w, fmt.Sprintf("## WAL %s\n\n%s", tenant, cliui.MarkdownTable([]string{"Status", "Entries"}, rows)))
}

func (c *walCommander) writeEntries(w io.Writer, entries []*wal.Entry) error {
	if entries == nil {
		entries = []*wal.Entry{}
	}
	if c.jsonOut {
		return writeJSON(w, struct {
			Count   int          `json:"count"`
			Entries []*wal.Entry `json:"entries"`
		}{len(entries), entries})
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No entries.")
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		lastErr := ""
		if e.LastError != nil {
			lastErr = utils.Truncate(*e.LastError, lastErrorWidth)
		}
		rows = append(rows, []string{
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(e.RetryCount),
			e.IdempotencyKey,
			lastErr,
		})
	}
	table := cliui.MarkdownTable([]string{"ID", "Created", "Retries", "Idempotency key", "Last error"}, rows)
	return writeMarkdown(w, table)
}

func (c *walCommander) writeCheckpoint(w io.Writer, cp *wal.Checkpoint) error {
	if c.jsonOut {
		return writeJSON(w, cp)
	}
	rows := [][]string{
		{"id", cp.ID},
		{"worker", cp.WorkerID},
		{"watermark", cp.Watermark},
		{"batch size", strconv.Itoa(cp.BatchSize)},
		{"processed", strconv.FormatInt(cp.Processed, 10)},
		{"written", cp.CreatedAt.UTC().Format(time.RFC3339)},
	}
	return writeMarkdown(w, cliui.MarkdownTable([]string{"Checkpoint", ""}, rows))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeMarkdown renders through glamour on a terminal and writes the plain
// markdown everywhere else.
func writeMarkdown(w io.Writer, md string) error {
	if cliui.IsTerminal(w) {
		// RenderMarkdown hands back the raw content on failure.
		md, _ = cliui.RenderMarkdown(md)
	}
	_, err := io.WriteString(w, md)
	return err
}
