// Package configcmder provides the config command for managing persistent
// memwal configuration stored in the .memwal/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memwal/pkg/cliui"
	"github.com/papercomputeco/memwal/pkg/config"
)

const configLongDesc string = `Manage persistent memwal configuration.

Configuration is stored as config.toml in the .memwal/ directory and provides
default values for command flags. CLI flags and MEMWAL_ environment variables
always take precedence over config file values.

Keys use dotted notation matching the TOML section structure, for example:
  storage.driver, storage.postgres_dsn,
  gateway.listen, wal.max_retries,
  worker.tenants, worker.batch_size,
  salience.weights, salience.archive_threshold,
  resource.memory_limit_mb, dispatch.provider

Per-tenant overrides live in [tenants.<id>] tables and are edited in the
file directly.

Use subcommands to get, set, or list configuration values:
  memwal config set <key> <value>    Set a configuration value
  memwal config get <key>            Get a configuration value
  memwal config list                 List all configuration values

Examples:
  memwal config set storage.driver postgres
  memwal config set worker.tenants acme,globex
  memwal config get salience.archive_threshold
  memwal config list`

const configShortDesc string = "Manage persistent memwal configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// secretKeys are shown masked.
var secretKeys = map[string]bool{
	"storage.postgres_dsn": true,
	"archive.secret_key":   true,
}

func display(key, value string) string {
	if value != "" && secretKeys[key] {
		return "********"
	}
	return value
}

func unknownKeyError(key string) error {
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

func validKeyCompletion(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func printTarget(w io.Writer, cfger *config.Configer) {
	target := cfger.GetTarget()
	if target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
	} else {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
	}
}
