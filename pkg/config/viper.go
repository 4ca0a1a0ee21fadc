package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/memwal/pkg/dotdir"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "MEMWAL"

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the MEMWAL_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (MEMWAL_GATEWAY_LISTEN, MEMWAL_STORAGE_DRIVER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: MEMWAL_WAL_MAX_RETRIES, MEMWAL_WORKER_TENANTS, etc.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	for _, key := range keyOrder {
		v.SetDefault(key, configKeys[key].get(d))
	}
}

// FromViper materializes the effective Config from v's precedence chain.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	cfg.Version = v.GetInt("version")

	for _, key := range keyOrder {
		if err := configKeys[key].set(cfg, flatten(v.Get(key))); err != nil {
			return nil, err
		}
	}

	if v.IsSet("tenants") {
		tenants := map[string]TenantOverride{}
		if err := v.UnmarshalKey("tenants", &tenants); err != nil {
			return nil, fmt.Errorf("reading tenant overrides: %w", err)
		}
		cfg.Tenants = tenants
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve is the PreRunE helper of long-running commands: it initializes
// viper from the --config-dir flag, binds the given registry flags and
// returns the effective Config.
func Resolve(cmd *cobra.Command, registryKeys []string) (*viper.Viper, *Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := InitViper(configDir)
	if err != nil {
		return nil, nil, err
	}
	BindRegisteredFlags(v, cmd, Flags, registryKeys)

	cfg, err := FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

// flatten renders a viper value in the string form the key setters parse.
// TOML arrays arrive as []any, flags and env vars as strings.
func flatten(val any) string {
	switch t := val.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ",")
	case []float64:
		return formatFloats(t)
	case time.Duration:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Live holds the current configuration of a long-running process. Readers
// always see a complete Config; reloads swap it atomically.
type Live struct {
	cfg atomic.Pointer[Config]
}

// NewLive creates a Live holding cfg.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.cfg.Store(cfg)
	return l
}

// Load returns the current configuration.
func (l *Live) Load() *Config {
	return l.cfg.Load()
}

// Store replaces the current configuration.
func (l *Live) Store(cfg *Config) {
	l.cfg.Store(cfg)
}

// Watch re-reads the config file whenever it changes and swaps the result
// into l. Edits that fail validation are logged and ignored, leaving the
// previous configuration in place.
func (l *Live) Watch(v *viper.Viper, logger *slog.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := FromViper(v)
		if err != nil {
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		l.Store(cfg)
		logger.Info("config reloaded", "file", e.Name, "op", e.Op.String())
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
}
