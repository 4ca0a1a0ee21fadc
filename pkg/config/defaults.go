package config

import "time"

const (
	defaultStorageDriver = "sqlite"

	defaultGatewayListen = ":8080"
	defaultAppendTimeout = 100 * time.Millisecond
	defaultTimeBucket    = time.Minute

	defaultMaxRetries        = 3
	defaultStaleClaimTimeout = 10 * time.Minute
	defaultReapInterval      = time.Minute

	defaultBatchSize          = 25
	defaultPollInterval       = 5 * time.Second
	defaultCheckpointInterval = 100
	defaultHealthListen       = ":8082"
	defaultSweepLimit         = 50

	defaultHalfLife            = 168 * time.Hour
	defaultFrequencySaturation = 100
	defaultArchiveThreshold    = 0.2
	defaultMinAgeDays          = 30
	defaultScore               = 0.5

	defaultMemoryLimitMB  = 2048
	defaultSampleInterval = 5 * time.Second

	defaultDispatchProvider = "local"
	defaultRedisAddr        = "localhost:6379"
	defaultKafkaTopic       = "memwal.dispatch"
	defaultKafkaGroup       = "memwal-workers"

	defaultExtractionProvider = "remote"
	defaultExtractionTarget   = "http://localhost:9090"
	defaultExtractionTimeout  = 30 * time.Second

	defaultArchiveProvider = "memory"
	defaultArchiveBucket   = "memwal-archive"
	defaultSummaryMaxChars = 280

	defaultVectorProvider   = "none"
	defaultVectorTarget     = "localhost:6334"
	defaultVectorCollection = "memories"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		Gateway: GatewayConfig{
			Listen:        defaultGatewayListen,
			AppendTimeout: Duration{defaultAppendTimeout},
			TimeBucket:    Duration{defaultTimeBucket},
		},
		WAL: WALConfig{
			MaxRetries:        defaultMaxRetries,
			StaleClaimTimeout: Duration{defaultStaleClaimTimeout},
			ReapInterval:      Duration{defaultReapInterval},
		},
		Worker: WorkerConfig{
			BatchSize:          defaultBatchSize,
			PollInterval:       Duration{defaultPollInterval},
			CheckpointInterval: defaultCheckpointInterval,
			HealthListen:       defaultHealthListen,
			Tenants:            []string{},
			SweepLimit:         defaultSweepLimit,
		},
		Salience: SalienceConfig{
			Weights:             []float64{0.3, 0.3, 0.4},
			HalfLife:            Duration{defaultHalfLife},
			FrequencySaturation: defaultFrequencySaturation,
			ArchiveThreshold:    defaultArchiveThreshold,
			MinAgeDays:          defaultMinAgeDays,
			DefaultScore:        defaultScore,
		},
		Resource: ResourceConfig{
			MemoryLimitMB:  defaultMemoryLimitMB,
			SampleInterval: Duration{defaultSampleInterval},
		},
		Dispatch: DispatchConfig{
			Provider:     defaultDispatchProvider,
			RedisAddr:    defaultRedisAddr,
			KafkaBrokers: []string{},
			KafkaTopic:   defaultKafkaTopic,
			KafkaGroup:   defaultKafkaGroup,
		},
		Extraction: ExtractionConfig{
			Provider: defaultExtractionProvider,
			Target:   defaultExtractionTarget,
			Timeout:  Duration{defaultExtractionTimeout},
		},
		Archive: ArchiveConfig{
			Provider:        defaultArchiveProvider,
			Bucket:          defaultArchiveBucket,
			Secure:          true,
			SummaryMaxChars: defaultSummaryMaxChars,
		},
		Vector: VectorConfig{
			Provider:   defaultVectorProvider,
			Target:     defaultVectorTarget,
			Collection: defaultVectorCollection,
		},
	}
}
