package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/memwal/pkg/dotdir"
	"github.com/papercomputeco/memwal/pkg/salience"
	"github.com/papercomputeco/memwal/pkg/wal"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// Storage drivers accepted by storage.driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverLibSQL   = "libsql"
	DriverPostgres = "postgres"
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .memwal/ directory was resolved, targetPath stays empty;
	// LoadConfig returns defaults and SaveConfig creates ~/.memwal/.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns all supported configuration key names in the
// order of the TOML section layout.
func ValidConfigKeys() []string {
	return append([]string(nil), keyOrder...)
}

// Sections returns the TOML section names in listing order.
func Sections() []string {
	var out []string
	for _, key := range keyOrder {
		section, _, _ := strings.Cut(key, ".")
		if len(out) == 0 || out[len(out)-1] != section {
			out = append(out, section)
		}
	}
	return out
}

// Value returns the string form of key in c.
func (c *Config) Value(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}
	return info.get(c), nil
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target .memwal/
// directory. If the file does not exist, returns NewDefaultConfig() so
// callers always receive a fully-populated Config.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return ParseConfigTOML(data)
}

// SaveConfig persists the configuration to config.toml in the target
// .memwal/ directory, creating ~/.memwal/ if no directory exists yet.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		dir, err := c.ddm.Init("")
		if err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		c.targetPath = filepath.Join(dir, configFile)
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ParseConfigTOML parses raw TOML bytes over NewDefaultConfig(), so keys
// absent from the file keep their defaults and explicit zero values stick.
// Returns an error if the version field is present and not CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverLibSQL, DriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver %q (available: memory, sqlite, libsql, postgres)", c.Storage.Driver)
	}
	if c.WAL.MaxRetries < 0 {
		return wal.ErrInvalidMaxRetries
	}
	if c.Worker.BatchSize <= 0 {
		return wal.ErrInvalidBatchSize
	}
	if c.Worker.CheckpointInterval <= 0 {
		return fmt.Errorf("worker.checkpoint_interval must be positive, got %d", c.Worker.CheckpointInterval)
	}
	for _, t := range c.Worker.Tenants {
		if t == "" {
			return wal.ErrEmptyTenant
		}
	}
	if err := validateDefaultScore(c.Salience.DefaultScore); err != nil {
		return err
	}
	if _, err := c.resolve("", nil); err != nil {
		return err
	}
	for id, o := range c.Tenants {
		if id == "" {
			return wal.ErrEmptyTenant
		}
		if _, err := c.resolve(id, &o); err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
	}
	return nil
}

func validateDefaultScore(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("salience.default_score must be within [0,1], got %v", v)
	}
	return nil
}

// TenantSettings are the effective settings for one tenant after overrides.
type TenantSettings struct {
	Tenant             string
	MaxRetries         int
	CheckpointInterval int
	Salience           salience.Config
	DefaultScore       float64
}

// Tenant resolves the effective settings for id. There is no process-wide
// default tenant: an empty id is rejected.
func (c *Config) Tenant(id string) (TenantSettings, error) {
	if id == "" {
		return TenantSettings{}, wal.ErrEmptyTenant
	}

	if ov, ok := c.Tenants[id]; ok {
		return c.resolve(id, &ov)
	}
	return c.resolve(id, nil)
}

// resolve applies o on top of the global settings.
func (c *Config) resolve(id string, o *TenantOverride) (TenantSettings, error) {
	sc, err := c.salience(o)
	if err != nil {
		return TenantSettings{}, err
	}

	s := TenantSettings{
		Tenant:             id,
		MaxRetries:         c.WAL.MaxRetries,
		CheckpointInterval: c.Worker.CheckpointInterval,
		Salience:           sc,
		DefaultScore:       c.Salience.DefaultScore,
	}
	if o != nil {
		if o.MaxRetries != nil {
			if *o.MaxRetries < 0 {
				return TenantSettings{}, wal.ErrInvalidMaxRetries
			}
			s.MaxRetries = *o.MaxRetries
		}
		if o.CheckpointInterval != nil {
			s.CheckpointInterval = *o.CheckpointInterval
		}
	}

	if _, err := salience.NewScorer(s.Salience); err != nil {
		return TenantSettings{}, err
	}
	return s, nil
}

func (c *Config) salience(o *TenantOverride) (salience.Config, error) {
	weights := c.Salience.Weights
	threshold := c.Salience.ArchiveThreshold
	minAgeDays := c.Salience.MinAgeDays
	if o != nil {
		if len(o.Weights) > 0 {
			weights = o.Weights
		}
		if o.ArchiveThreshold != nil {
			threshold = *o.ArchiveThreshold
		}
		if o.MinAgeDays != nil {
			minAgeDays = *o.MinAgeDays
		}
	}

	w, err := salience.WeightsFromSlice(weights)
	if err != nil {
		return salience.Config{}, err
	}
	return salience.Config{
		Weights:             w,
		HalfLife:            c.Salience.HalfLife.Duration,
		FrequencySaturation: c.Salience.FrequencySaturation,
		ArchiveThreshold:    threshold,
		MinAge:              time.Duration(minAgeDays) * 24 * time.Hour,
	}, nil
}
