package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent memwal configuration stored as config.toml
// in the .memwal/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version    int              `toml:"version"`
	Storage    StorageConfig    `toml:"storage"`
	Gateway    GatewayConfig    `toml:"gateway"`
	WAL        WALConfig        `toml:"wal"`
	Worker     WorkerConfig     `toml:"worker"`
	Salience   SalienceConfig   `toml:"salience"`
	Resource   ResourceConfig   `toml:"resource"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Extraction ExtractionConfig `toml:"extraction"`
	Archive    ArchiveConfig    `toml:"archive"`
	Vector     VectorConfig     `toml:"vector"`

	// Tenants holds per-tenant overrides keyed by tenant id.
	Tenants map[string]TenantOverride `toml:"tenants,omitempty"`
}

// StorageConfig selects the WAL and memory record backend.
type StorageConfig struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
	LibSQLURL   string `toml:"libsql_url,omitempty"`
}

// GatewayConfig holds ingestion gateway settings.
type GatewayConfig struct {
	Listen        string   `toml:"listen"`
	AppendTimeout Duration `toml:"append_timeout"`
	TimeBucket    Duration `toml:"time_bucket"`
}

// WALConfig holds retry and reaper settings.
type WALConfig struct {
	MaxRetries        int      `toml:"max_retries"`
	StaleClaimTimeout Duration `toml:"stale_claim_timeout"`
	ReapInterval      Duration `toml:"reap_interval"`
}

// WorkerConfig holds consolidation worker settings.
type WorkerConfig struct {
	ID                 string   `toml:"id,omitempty"`
	BatchSize          int      `toml:"batch_size"`
	PollInterval       Duration `toml:"poll_interval"`
	CheckpointInterval int      `toml:"checkpoint_interval"`
	HealthListen       string   `toml:"health_listen"`
	Tenants            []string `toml:"tenants"`
	SweepLimit         int      `toml:"sweep_limit"`
}

// SalienceConfig holds scoring and archival settings.
type SalienceConfig struct {
	Weights             []float64 `toml:"weights"`
	HalfLife            Duration  `toml:"half_life"`
	FrequencySaturation int       `toml:"frequency_saturation"`
	ArchiveThreshold    float64   `toml:"archive_threshold"`
	MinAgeDays          int       `toml:"min_age_days"`
	DefaultScore        float64   `toml:"default_score"`
}

// ResourceConfig holds resource guard settings. A zero MemoryLimitMB
// auto-detects the limit.
type ResourceConfig struct {
	MemoryLimitMB  uint64   `toml:"memory_limit_mb"`
	SampleInterval Duration `toml:"sample_interval"`
}

// DispatchConfig selects the wake-up signal provider.
type DispatchConfig struct {
	Provider     string   `toml:"provider"`
	RedisAddr    string   `toml:"redis_addr,omitempty"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic,omitempty"`
	KafkaGroup   string   `toml:"kafka_group,omitempty"`
}

// ExtractionConfig selects the extraction collaborator.
type ExtractionConfig struct {
	Provider string   `toml:"provider"`
	Target   string   `toml:"target,omitempty"`
	Timeout  Duration `toml:"timeout"`
}

// ArchiveConfig selects the cold store for archived originals.
type ArchiveConfig struct {
	Provider        string `toml:"provider"`
	Endpoint        string `toml:"endpoint,omitempty"`
	Bucket          string `toml:"bucket,omitempty"`
	AccessKey       string `toml:"access_key,omitempty"`
	SecretKey       string `toml:"secret_key,omitempty"`
	Secure          bool   `toml:"secure"`
	SummaryMaxChars int    `toml:"summary_max_chars"`
}

// VectorConfig selects the hot vector index archived records are evicted from.
type VectorConfig struct {
	Provider   string `toml:"provider"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
}

// TenantOverride replaces selected settings for one tenant. Nil fields
// inherit the global value.
type TenantOverride struct {
	MaxRetries         *int      `toml:"max_retries,omitempty" mapstructure:"max_retries"`
	CheckpointInterval *int      `toml:"checkpoint_interval,omitempty" mapstructure:"checkpoint_interval"`
	Weights            []float64 `toml:"weights,omitempty" mapstructure:"weights"`
	ArchiveThreshold   *float64  `toml:"archive_threshold,omitempty" mapstructure:"archive_threshold"`
	MinAgeDays         *int      `toml:"min_age_days,omitempty" mapstructure:"min_age_days"`
}

// Duration is a time.Duration written as a Go duration string ("1m30s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// keyOrder is the stable listing order, matching the TOML section layout.
var keyOrder = []string{
	"storage.driver",
	"storage.sqlite_path",
	"storage.postgres_dsn",
	"storage.libsql_url",
	"gateway.listen",
	"gateway.append_timeout",
	"gateway.time_bucket",
	"wal.max_retries",
	"wal.stale_claim_timeout",
	"wal.reap_interval",
	"worker.id",
	"worker.batch_size",
	"worker.poll_interval",
	"worker.checkpoint_interval",
	"worker.health_listen",
	"worker.tenants",
	"worker.sweep_limit",
	"salience.weights",
	"salience.half_life",
	"salience.frequency_saturation",
	"salience.archive_threshold",
	"salience.min_age_days",
	"salience.default_score",
	"resource.memory_limit_mb",
	"resource.sample_interval",
	"dispatch.provider",
	"dispatch.redis_addr",
	"dispatch.kafka_brokers",
	"dispatch.kafka_topic",
	"dispatch.kafka_group",
	"extraction.provider",
	"extraction.target",
	"extraction.timeout",
	"archive.provider",
	"archive.endpoint",
	"archive.bucket",
	"archive.access_key",
	"archive.secret_key",
	"archive.secure",
	"archive.summary_max_chars",
	"vector.provider",
	"vector.target",
	"vector.collection",
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver":       stringKey(func(c *Config) *string { return &c.Storage.Driver }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),
	"storage.libsql_url":   stringKey(func(c *Config) *string { return &c.Storage.LibSQLURL }),

	"gateway.listen":         stringKey(func(c *Config) *string { return &c.Gateway.Listen }),
	"gateway.append_timeout": durationKey("gateway.append_timeout", func(c *Config) *Duration { return &c.Gateway.AppendTimeout }),
	"gateway.time_bucket":    durationKey("gateway.time_bucket", func(c *Config) *Duration { return &c.Gateway.TimeBucket }),

	"wal.max_retries":         intKey("wal.max_retries", func(c *Config) *int { return &c.WAL.MaxRetries }),
	"wal.stale_claim_timeout": durationKey("wal.stale_claim_timeout", func(c *Config) *Duration { return &c.WAL.StaleClaimTimeout }),
	"wal.reap_interval":       durationKey("wal.reap_interval", func(c *Config) *Duration { return &c.WAL.ReapInterval }),

	"worker.id":                  stringKey(func(c *Config) *string { return &c.Worker.ID }),
	"worker.batch_size":          intKey("worker.batch_size", func(c *Config) *int { return &c.Worker.BatchSize }),
	"worker.poll_interval":       durationKey("worker.poll_interval", func(c *Config) *Duration { return &c.Worker.PollInterval }),
	"worker.checkpoint_interval": intKey("worker.checkpoint_interval", func(c *Config) *int { return &c.Worker.CheckpointInterval }),
	"worker.health_listen":       stringKey(func(c *Config) *string { return &c.Worker.HealthListen }),
	"worker.tenants":             listKey(func(c *Config) *[]string { return &c.Worker.Tenants }),
	"worker.sweep_limit":         intKey("worker.sweep_limit", func(c *Config) *int { return &c.Worker.SweepLimit }),

	"salience.weights": {
		get: func(c *Config) string { return formatFloats(c.Salience.Weights) },
		set: func(c *Config, v string) error {
			w, err := ParseFloatList(v)
			if err != nil {
				return fmt.Errorf("invalid value for salience.weights: %w", err)
			}
			c.Salience.Weights = w
			return nil
		},
	},
	"salience.half_life":            durationKey("salience.half_life", func(c *Config) *Duration { return &c.Salience.HalfLife }),
	"salience.frequency_saturation": intKey("salience.frequency_saturation", func(c *Config) *int { return &c.Salience.FrequencySaturation }),
	"salience.archive_threshold":    floatKey("salience.archive_threshold", func(c *Config) *float64 { return &c.Salience.ArchiveThreshold }),
	"salience.min_age_days":         intKey("salience.min_age_days", func(c *Config) *int { return &c.Salience.MinAgeDays }),
	"salience.default_score":        floatKey("salience.default_score", func(c *Config) *float64 { return &c.Salience.DefaultScore }),

	"resource.memory_limit_mb": {
		get: func(c *Config) string { return strconv.FormatUint(c.Resource.MemoryLimitMB, 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for resource.memory_limit_mb: %w", err)
			}
			c.Resource.MemoryLimitMB = n
			return nil
		},
	},
	"resource.sample_interval": durationKey("resource.sample_interval", func(c *Config) *Duration { return &c.Resource.SampleInterval }),

	"dispatch.provider":      stringKey(func(c *Config) *string { return &c.Dispatch.Provider }),
	"dispatch.redis_addr":    stringKey(func(c *Config) *string { return &c.Dispatch.RedisAddr }),
	"dispatch.kafka_brokers": listKey(func(c *Config) *[]string { return &c.Dispatch.KafkaBrokers }),
	"dispatch.kafka_topic":   stringKey(func(c *Config) *string { return &c.Dispatch.KafkaTopic }),
	"dispatch.kafka_group":   stringKey(func(c *Config) *string { return &c.Dispatch.KafkaGroup }),

	"extraction.provider": stringKey(func(c *Config) *string { return &c.Extraction.Provider }),
	"extraction.target":   stringKey(func(c *Config) *string { return &c.Extraction.Target }),
	"extraction.timeout":  durationKey("extraction.timeout", func(c *Config) *Duration { return &c.Extraction.Timeout }),

	"archive.provider":   stringKey(func(c *Config) *string { return &c.Archive.Provider }),
	"archive.endpoint":   stringKey(func(c *Config) *string { return &c.Archive.Endpoint }),
	"archive.bucket":     stringKey(func(c *Config) *string { return &c.Archive.Bucket }),
	"archive.access_key": stringKey(func(c *Config) *string { return &c.Archive.AccessKey }),
	"archive.secret_key": stringKey(func(c *Config) *string { return &c.Archive.SecretKey }),
	"archive.secure": {
		get: func(c *Config) string { return strconv.FormatBool(c.Archive.Secure) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for archive.secure: %w", err)
			}
			c.Archive.Secure = b
			return nil
		},
	},
	"archive.summary_max_chars": intKey("archive.summary_max_chars", func(c *Config) *int { return &c.Archive.SummaryMaxChars }),

	"vector.provider":   stringKey(func(c *Config) *string { return &c.Vector.Provider }),
	"vector.target":     stringKey(func(c *Config) *string { return &c.Vector.Target }),
	"vector.collection": stringKey(func(c *Config) *string { return &c.Vector.Collection }),
}

func stringKey(field func(*Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func intKey(name string, field func(*Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

func floatKey(name string, field func(*Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatFloat(*field(c), 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = f
			return nil
		},
	}
}

func durationKey(name string, field func(*Config) *Duration) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return field(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			field(c).Duration = d
			return nil
		},
	}
}

func listKey(field func(*Config) *[]string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strings.Join(*field(c), ",") },
		set: func(c *Config, v string) error { *field(c) = SplitList(v); return nil },
	}
}

// SplitList splits a comma or whitespace separated list, dropping empties.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return []string{}
	}
	return fields
}

// ParseFloatList parses a list such as "0.3,0.3,0.4".
func ParseFloatList(s string) ([]float64, error) {
	parts := SplitList(strings.Trim(s, "[]"))
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func formatFloats(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
