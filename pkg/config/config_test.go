package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memwal/pkg/config"
	"github.com/papercomputeco/memwal/pkg/salience"
	"github.com/papercomputeco/memwal/pkg/wal"
)

func intPtr(n int) *int { return &n }

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	writeConfig := func(data string) {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.NewDefaultConfig()))
		})

		It("loads a valid config file over the defaults", func() {
			writeConfig(`version = 0

[storage]
driver = "postgres"
postgres_dsn = "postgres://localhost/memwal"

[wal]
max_retries = 5
stale_claim_timeout = "2m"

[worker]
tenants = ["acme", "globex"]
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Driver).To(Equal(config.DriverPostgres))
			Expect(cfg.Storage.PostgresDSN).To(Equal("postgres://localhost/memwal"))
			Expect(cfg.WAL.MaxRetries).To(Equal(5))
			Expect(cfg.WAL.StaleClaimTimeout.Duration).To(Equal(2 * time.Minute))
			Expect(cfg.Worker.Tenants).To(Equal([]string{"acme", "globex"}))

			// Untouched sections keep their defaults.
			Expect(cfg.Worker.BatchSize).To(Equal(25))
			Expect(cfg.Salience.Weights).To(Equal([]float64{0.3, 0.3, 0.4}))
		})

		It("keeps explicit zero values", func() {
			writeConfig("[resource]\nmemory_limit_mb = 0\n")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Resource.MemoryLimitMB).To(BeZero())
		})

		It("returns error for malformed TOML", func() {
			writeConfig("[storage\ndriver = ")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("parsing config TOML"))
		})

		It("returns error for unsupported config version", func() {
			writeConfig("version = 9\n")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("unsupported config version 9")))
		})

		It("returns error for a malformed duration", func() {
			writeConfig("[worker]\npoll_interval = \"soon\"\n")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SaveConfig", func() {
		It("round-trips every field including tenant overrides", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg := config.NewDefaultConfig()
			cfg.Storage.Driver = config.DriverLibSQL
			cfg.Storage.LibSQLURL = "libsql://memwal.example"
			cfg.Gateway.AppendTimeout = config.Duration{Duration: 250 * time.Millisecond}
			cfg.Worker.Tenants = []string{"acme"}
			cfg.Dispatch.KafkaBrokers = []string{"kafka-1:9092", "kafka-2:9092"}
			cfg.Tenants = map[string]config.TenantOverride{
				"acme": {MaxRetries: intPtr(7), Weights: []float64{0.5, 0.25, 0.25}},
			}
			Expect(c.SaveConfig(cfg)).To(Succeed())

			loaded, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(cfg))
		})

		It("returns error for nil config", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(nil)).To(MatchError("cannot save nil config"))
		})

		It("writes config.toml in the target directory", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(config.NewDefaultConfig())).To(Succeed())

			abs, err := filepath.Abs(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.GetTarget()).To(Equal(filepath.Join(abs, "config.toml")))
			Expect(c.GetTarget()).To(BeARegularFile())
		})
	})

	Describe("SetConfigValue", func() {
		var c *config.Configer

		BeforeEach(func() {
			var err error
			c, err = config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("sets string, int, duration and list keys", func() {
			Expect(c.SetConfigValue("storage.driver", "memory")).To(Succeed())
			Expect(c.SetConfigValue("wal.max_retries", "6")).To(Succeed())
			Expect(c.SetConfigValue("worker.poll_interval", "750ms")).To(Succeed())
			Expect(c.SetConfigValue("worker.tenants", "acme, globex")).To(Succeed())
			Expect(c.SetConfigValue("salience.weights", "0.2,0.2,0.6")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Driver).To(Equal(config.DriverMemory))
			Expect(cfg.WAL.MaxRetries).To(Equal(6))
			Expect(cfg.Worker.PollInterval.Duration).To(Equal(750 * time.Millisecond))
			Expect(cfg.Worker.Tenants).To(Equal([]string{"acme", "globex"}))
			Expect(cfg.Salience.Weights).To(Equal([]float64{0.2, 0.2, 0.6}))
		})

		It("returns error for unknown key", func() {
			err := c.SetConfigValue("proxy.upstream", "x")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("returns error for a value of the wrong type", func() {
			err := c.SetConfigValue("worker.batch_size", "lots")
			Expect(err).To(MatchError(ContainSubstring("invalid value for worker.batch_size")))
		})

		It("rejects values that fail validation without saving them", func() {
			Expect(c.SetConfigValue("worker.batch_size", "0")).To(MatchError(wal.ErrInvalidBatchSize))
			Expect(c.SetConfigValue("storage.driver", "mongo")).To(MatchError(ContainSubstring("unknown storage driver")))
			Expect(c.SetConfigValue("salience.weights", "0.5,0.5,0.5")).To(MatchError(salience.ErrWeightSum))

			Expect(filepath.Join(tmpDir, "config.toml")).NotTo(BeAnExistingFile())
		})

		It("preserves existing values when setting a new key", func() {
			Expect(c.SetConfigValue("gateway.listen", ":9000")).To(Succeed())
			Expect(c.SetConfigValue("worker.batch_size", "10")).To(Succeed())

			v, err := c.GetConfigValue("gateway.listen")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(":9000"))
		})
	})

	Describe("GetConfigValue", func() {
		It("returns defaults when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			for key, want := range map[string]string{
				"wal.max_retries":            "3",
				"wal.stale_claim_timeout":    "10m0s",
				"salience.weights":           "0.3,0.3,0.4",
				"salience.archive_threshold": "0.2",
				"resource.memory_limit_mb":   "2048",
				"archive.secure":             "true",
				"storage.postgres_dsn":       "",
			} {
				v, err := c.GetConfigValue(key)
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(Equal(want), key)
			}
		})

		It("returns error for unknown key", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.GetConfigValue("nope")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("ValidConfigKeys", func() {
	It("lists every key in section order", func() {
		keys := config.ValidConfigKeys()
		Expect(keys).To(HaveLen(43))
		Expect(keys[0]).To(Equal("storage.driver"))
		Expect(keys[len(keys)-1]).To(Equal("vector.collection"))
		for _, k := range keys {
			Expect(config.IsValidConfigKey(k)).To(BeTrue(), k)
		}
	})

	It("returns a copy", func() {
		keys := config.ValidConfigKeys()
		keys[0] = "mutated"
		Expect(config.ValidConfigKeys()[0]).To(Equal("storage.driver"))
	})

	It("rejects unknown and section-only keys", func() {
		Expect(config.IsValidConfigKey("storage")).To(BeFalse())
		Expect(config.IsValidConfigKey("proxy.provider")).To(BeFalse())
	})
})

var _ = Describe("Config", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = config.NewDefaultConfig()
	})

	Describe("Validate", func() {
		It("accepts the defaults", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("rejects negative max retries", func() {
			cfg.WAL.MaxRetries = -1
			Expect(cfg.Validate()).To(MatchError(wal.ErrInvalidMaxRetries))
		})

		It("rejects blank tenants in the worker list", func() {
			cfg.Worker.Tenants = []string{"acme", ""}
			Expect(cfg.Validate()).To(MatchError(wal.ErrEmptyTenant))
		})

		It("rejects a default score outside [0,1]", func() {
			cfg.Salience.DefaultScore = 1.5
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("default_score")))
		})

		It("names the tenant whose override is invalid", func() {
			cfg.Tenants = map[string]config.TenantOverride{
				"acme": {Weights: []float64{0.1, 0.1, 0.1}},
			}
			err := cfg.Validate()
			Expect(err).To(MatchError(salience.ErrWeightSum))
			Expect(err.Error()).To(ContainSubstring("tenant acme"))
		})
	})

	Describe("Tenant", func() {
		It("rejects the empty tenant", func() {
			_, err := cfg.Tenant("")
			Expect(err).To(MatchError(wal.ErrEmptyTenant))
		})

		It("uses the global settings when no override exists", func() {
			s, err := cfg.Tenant("acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Tenant).To(Equal("acme"))
			Expect(s.MaxRetries).To(Equal(3))
			Expect(s.CheckpointInterval).To(Equal(100))
			Expect(s.DefaultScore).To(Equal(0.5))
			Expect(s.Salience).To(Equal(salience.DefaultConfig()))
		})

		It("applies per-tenant overrides", func() {
			threshold := 0.35
			cfg.Tenants = map[string]config.TenantOverride{
				"acme": {
					MaxRetries:         intPtr(0),
					CheckpointInterval: intPtr(10),
					Weights:            []float64{0.5, 0.25, 0.25},
					ArchiveThreshold:   &threshold,
					MinAgeDays:         intPtr(7),
				},
			}

			s, err := cfg.Tenant("acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.MaxRetries).To(BeZero())
			Expect(s.CheckpointInterval).To(Equal(10))
			Expect(s.Salience.Weights).To(Equal(salience.Weights{Recency: 0.5, Frequency: 0.25, Utility: 0.25}))
			Expect(s.Salience.ArchiveThreshold).To(Equal(0.35))
			Expect(s.Salience.MinAge).To(Equal(7 * 24 * time.Hour))
			Expect(s.Salience.HalfLife).To(Equal(salience.DefaultHalfLife))

			other, err := cfg.Tenant("globex")
			Expect(err).NotTo(HaveOccurred())
			Expect(other.MaxRetries).To(Equal(3))
		})

		It("rejects a negative override", func() {
			cfg.Tenants = map[string]config.TenantOverride{"acme": {MaxRetries: intPtr(-2)}}
			_, err := cfg.Tenant("acme")
			Expect(err).To(MatchError(wal.ErrInvalidMaxRetries))
		})
	})
})

var _ = Describe("list parsing", func() {
	It("splits on commas and whitespace", func() {
		Expect(config.SplitList("a, b  c,,")).To(Equal([]string{"a", "b", "c"}))
		Expect(config.SplitList("")).To(BeEmpty())
	})

	It("parses bracketed float lists", func() {
		Expect(config.ParseFloatList("[0.3, 0.3, 0.4]")).To(Equal([]float64{0.3, 0.3, 0.4}))
		_, err := config.ParseFloatList("0.3,x")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Sections", func() {
	It("lists each section once in key order", func() {
		sections := config.Sections()
		Expect(sections[0]).To(Equal("storage"))
		Expect(sections).To(ContainElements("gateway", "wal", "worker", "salience", "vector"))
		Expect(sections).To(HaveLen(len(uniqueSections())))
	})
})

var _ = Describe("Config.Value", func() {
	It("renders a key from the given config", func() {
		cfg := config.NewDefaultConfig()
		cfg.Worker.BatchSize = 7

		v, err := cfg.Value("worker.batch_size")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("7"))
	})

	It("rejects unknown keys", func() {
		_, err := config.NewDefaultConfig().Value("nope")
		Expect(err).To(MatchError(ContainSubstring("unknown config key")))
	})
})

func uniqueSections() map[string]bool {
	seen := map[string]bool{}
	for _, key := range config.ValidConfigKeys() {
		section, _, _ := strings.Cut(key, ".")
		seen[section] = true
	}
	return seen
}
