package configcmder

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memwal/pkg/cliui"
	"github.com/papercomputeco/memwal/pkg/config"
)

const listLongDesc string = `List configuration values grouped by TOML section.

Reads config.toml from the .memwal/ directory and prints every key with its
effective value. Values that differ from the built-in default are marked
with "(set)". Secrets are masked. Per-tenant [tenants.<id>] overrides are
listed after the global sections.

Pass a section name to list only that section.

Examples:
  memwal config list
  memwal config list worker
  memwal config list --json`

const listShortDesc string = "List configuration values"

type listOptions struct {
	jsonOut bool
}

func newListCmd() *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:       "list [section]",
		Short:     listShortDesc,
		Long:      listLongDesc,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: config.Sections(),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			section := ""
			if len(args) == 1 {
				section = args[0]
			}
			return runList(cmd.OutOrStdout(), configDir, section, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Write a flat JSON object of key to value")

	return cmd
}

// listedKey is one row of the listing.
type listedKey struct {
	Key     string
	Value   string
	Changed bool
}

func runList(out io.Writer, configDir, section string, opts *listOptions) error {
	if section != "" && !slices.Contains(config.Sections(), section) {
		return fmt.Errorf("unknown config section: %q\n\nValid sections: %s",
			section, strings.Join(config.Sections(), ", "))
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	defaults := config.NewDefaultConfig()

	grouped := map[string][]listedKey{}
	for _, key := range config.ValidConfigKeys() {
		sec, _, _ := strings.Cut(key, ".")
		if section != "" && sec != section {
			continue
		}
		value, err := cfg.Value(key)
		if err != nil {
			return err
		}
		def, err := defaults.Value(key)
		if err != nil {
			return err
		}
		grouped[sec] = append(grouped[sec], listedKey{Key: key, Value: display(key, value), Changed: value != def})
	}

	if opts.jsonOut {
		return writeListJSON(out, cfger.GetTarget(), grouped, cfg)
	}

	printTarget(out, cfger)

	styled := cliui.IsTerminal(out)
	for _, sec := range config.Sections() {
		rows, ok := grouped[sec]
		if !ok {
			continue
		}
		header := "[" + sec + "]"
		if styled {
			header = cliui.KeyStyle.Render(header)
		}
		fmt.Fprintln(out, header)

		width := 0
		for _, r := range rows {
			width = max(width, len(shortKey(r.Key)))
		}
		for _, r := range rows {
			value := "<not set>"
			if r.Value != "" {
				value = fmt.Sprintf("%q", r.Value)
			}
			line := fmt.Sprintf("  %-*s = %s", width, shortKey(r.Key), value)
			if r.Changed {
				mark := "(set)"
				if styled {
					mark = cliui.DimStyle.Render(mark)
				}
				line += "  " + mark
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintln(out)
	}

	if section == "" {
		writeTenantOverrides(out, cfg)
	}
	return nil
}

func shortKey(key string) string {
	_, name, _ := strings.Cut(key, ".")
	return name
}

// writeTenantOverrides lists which fields each [tenants.<id>] table sets.
func writeTenantOverrides(out io.Writer, cfg *config.Config) {
	if len(cfg.Tenants) == 0 {
		return
	}
	ids := make([]string, 0, len(cfg.Tenants))
	for id := range cfg.Tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fields := overriddenFields(cfg.Tenants[id])
		if len(fields) == 0 {
			fields = []string{"<empty>"}
		}
		fmt.Fprintf(out, "[tenants.%s]\n  overrides %s\n\n", id, strings.Join(fields, ", "))
	}
}

func overriddenFields(o config.TenantOverride) []string {
	var fields []string
	if o.MaxRetries != nil {
		fields = append(fields, "max_retries")
	}
	if o.CheckpointInterval != nil {
		fields = append(fields, "checkpoint_interval")
	}
	if len(o.Weights) > 0 {
		fields = append(fields, "weights")
	}
	if o.ArchiveThreshold != nil {
		fields = append(fields, "archive_threshold")
	}
	if o.MinAgeDays != nil {
		fields = append(fields, "min_age_days")
	}
	return fields
}

func writeListJSON(out io.Writer, target string, grouped map[string][]listedKey, cfg *config.Config) error {
	values := map[string]string{}
	for _, rows := range grouped {
		for _, r := range rows {
			values[r.Key] = r.Value
		}
	}
	tenants := map[string][]string{}
	for id, o := range cfg.Tenants {
		tenants[id] = overriddenFields(o)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		ConfigFile string              `json:"config_file,omitempty"`
		Values     map[string]string   `json:"values"`
		Tenants    map[string][]string `json:"tenant_overrides,omitempty"`
	}{target, values, tenants})
}
