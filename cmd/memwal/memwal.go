// Package memwalcmder is the root memwal command.
package memwalcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/memwal/cmd/memwal/config"
	reapercmder "github.com/papercomputeco/memwal/cmd/memwal/reaper"
	servecmder "github.com/papercomputeco/memwal/cmd/memwal/serve"
	walcmder "github.com/papercomputeco/memwal/cmd/memwal/wal"
	workercmder "github.com/papercomputeco/memwal/cmd/memwal/worker"
	versioncmder "github.com/papercomputeco/memwal/cmd/version"
)

const memwalLongDesc string = `memwal acknowledges interactions immediately and consolidates them later.

Inbound interactions are appended to a tenant-scoped write-ahead log by the
gateway. Consolidation workers claim batches from the log, extract entities
and relationships, rescore salience and archive records that have gone cold.

Run services using:
  memwal serve            Run the ingestion API
  memwal serve --worker   Run the ingestion API with an embedded worker
  memwal worker           Run a consolidation worker
  memwal reaper           Return abandoned claims to pending

Inspect the log using:
  memwal wal stats <tenant>
  memwal wal pending <tenant>
  memwal wal failed <tenant>`

const memwalShortDesc string = "memwal - write-ahead memory consolidation"

func NewMemwalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "memwal",
		Short:         memwalShortDesc,
		Long:          memwalLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write JSON logs instead of colorized text")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .memwal/ config directory")

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(workercmder.NewWorkerCmd())
	cmd.AddCommand(reapercmder.NewReaperCmd())
	cmd.AddCommand(walcmder.NewWALCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
