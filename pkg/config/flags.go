package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --sqlite
// on "memwal serve", "memwal worker" and "memwal wal stats").
type Flag struct {
	// Name is the long flag name (e.g. "sqlite").
	Name string

	// Shorthand is the one-letter short flag (e.g. "s"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "storage.sqlite_path").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagListen            = "listen"
	FlagStorageDriver     = "storage-driver"
	FlagSQLite            = "sqlite"
	FlagPostgresDSN       = "postgres-dsn"
	FlagLibSQLURL         = "libsql-url"
	FlagWorkerID          = "worker-id"
	FlagTenants           = "tenants"
	FlagBatchSize         = "batch-size"
	FlagHealthListen      = "health-listen"
	FlagDispatchProvider  = "dispatch-provider"
	FlagRedisAddr         = "redis-addr"
	FlagKafkaBrokers      = "kafka-brokers"
	FlagExtractionProv    = "extraction-provider"
	FlagExtractionTarget  = "extraction-target"
	FlagArchiveProvider   = "archive-provider"
	FlagVectorProvider    = "vector-provider"
	FlagMemoryLimit       = "memory-limit-mb"
	FlagStaleClaimTimeout = "stale-claim-timeout"
	FlagReapInterval      = "reap-interval"
)

// Flags is the registry shared by every memwal command.
var Flags = FlagSet{
	FlagListen:            {Name: "listen", Shorthand: "l", ViperKey: "gateway.listen", Description: "Address for the ingestion API to listen on"},
	FlagStorageDriver:     {Name: "storage-driver", ViperKey: "storage.driver", Description: "Storage backend (memory, sqlite, libsql, postgres)"},
	FlagSQLite:            {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to SQLite database (default: .memwal/memwal.sqlite)"},
	FlagPostgresDSN:       {Name: "postgres-dsn", ViperKey: "storage.postgres_dsn", Description: "PostgreSQL connection string"},
	FlagLibSQLURL:         {Name: "libsql-url", ViperKey: "storage.libsql_url", Description: "libSQL database URL"},
	FlagWorkerID:          {Name: "worker-id", ViperKey: "worker.id", Description: "Worker identity written to claimed entries (default: random)"},
	FlagTenants:           {Name: "tenants", Shorthand: "t", ViperKey: "worker.tenants", Description: "Tenants to consolidate"},
	FlagBatchSize:         {Name: "batch-size", Shorthand: "b", ViperKey: "worker.batch_size", Description: "Entries claimed per batch"},
	FlagHealthListen:      {Name: "health-listen", ViperKey: "worker.health_listen", Description: "Address for the worker health endpoint"},
	FlagDispatchProvider:  {Name: "dispatch-provider", ViperKey: "dispatch.provider", Description: "Dispatch signal provider (local, redis, kafka, none)"},
	FlagRedisAddr:         {Name: "redis-addr", ViperKey: "dispatch.redis_addr", Description: "Redis address for the redis dispatch signal"},
	FlagKafkaBrokers:      {Name: "kafka-brokers", ViperKey: "dispatch.kafka_brokers", Description: "Kafka brokers for the kafka dispatch signal"},
	FlagExtractionProv:    {Name: "extraction-provider", ViperKey: "extraction.provider", Description: "Extraction provider (remote, passthrough)"},
	FlagExtractionTarget:  {Name: "extraction-target", ViperKey: "extraction.target", Description: "Extraction service URL"},
	FlagArchiveProvider:   {Name: "archive-provider", ViperKey: "archive.provider", Description: "Cold store for archived records (memory, s3)"},
	FlagVectorProvider:    {Name: "vector-provider", ViperKey: "vector.provider", Description: "Vector index to evict archived records from (none, qdrant)"},
	FlagMemoryLimit:       {Name: "memory-limit-mb", ViperKey: "resource.memory_limit_mb", Description: "Hard memory limit in MB (0 = auto-detect)"},
	FlagStaleClaimTimeout: {Name: "stale-claim-timeout", ViperKey: "wal.stale_claim_timeout", Description: "Age after which a processing claim is reaped"},
	FlagReapInterval:      {Name: "reap-interval", ViperKey: "wal.reap_interval", Description: "Time between reaper sweeps"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddStringSliceFlag registers a comma separated list flag on cmd.
func AddStringSliceFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *[]string) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := SplitList(defaultString(def.ViperKey))
	if def.Shorthand != "" {
		cmd.Flags().StringSliceVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringSliceVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}
