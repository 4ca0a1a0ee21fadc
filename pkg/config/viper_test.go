package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/memwal/pkg/config"
)

var _ = Describe("InitViper", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("materializes the defaults when no config file exists", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.NewDefaultConfig()))
	})

	It("reads config.toml including tenant overrides", func() {
		data := `[worker]
tenants = ["acme", "globex"]
batch_size = 10

[salience]
weights = [0.4, 0.2, 0.4]

[tenants.acme]
max_retries = 5
weights = [0.5, 0.25, 0.25]
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Worker.Tenants).To(Equal([]string{"acme", "globex"}))
		Expect(cfg.Worker.BatchSize).To(Equal(10))
		Expect(cfg.Salience.Weights).To(Equal([]float64{0.4, 0.2, 0.4}))
		Expect(cfg.Tenants).To(HaveKey("acme"))
		Expect(*cfg.Tenants["acme"].MaxRetries).To(Equal(5))

		s, err := cfg.Tenant("acme")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.MaxRetries).To(Equal(5))
		Expect(s.Salience.Weights.Recency).To(Equal(0.5))

		s, err = cfg.Tenant("globex")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.MaxRetries).To(Equal(3))
		Expect(s.Salience.Weights.Recency).To(Equal(0.4))
	})

	It("lets MEMWAL_ environment variables override the file", func() {
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("[wal]\nmax_retries = 5\n"), 0o600)).To(Succeed())
		GinkgoT().Setenv("MEMWAL_WAL_MAX_RETRIES", "8")
		GinkgoT().Setenv("MEMWAL_WORKER_TENANTS", "acme,initech")
		GinkgoT().Setenv("MEMWAL_WORKER_POLL_INTERVAL", "250ms")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.WAL.MaxRetries).To(Equal(8))
		Expect(cfg.Worker.Tenants).To(Equal([]string{"acme", "initech"}))
		Expect(cfg.Worker.PollInterval.Duration).To(Equal(250 * time.Millisecond))
	})

	It("lets bound flags override the environment", func() {
		GinkgoT().Setenv("MEMWAL_WORKER_BATCH_SIZE", "40")

		var (
			batch   uint
			tenants []string
		)
		cmd := &cobra.Command{Use: "worker"}
		config.AddUintFlag(cmd, config.Flags, config.FlagBatchSize, &batch)
		config.AddStringSliceFlag(cmd, config.Flags, config.FlagTenants, &tenants)
		Expect(cmd.Flags().Set("batch-size", "7")).To(Succeed())
		Expect(cmd.Flags().Set("tenants", "acme,globex")).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagBatchSize, config.FlagTenants})

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Worker.BatchSize).To(Equal(7))
		Expect(cfg.Worker.Tenants).To(Equal([]string{"acme", "globex"}))
	})

	It("rejects invalid effective configuration", func() {
		GinkgoT().Setenv("MEMWAL_STORAGE_DRIVER", "mongo")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		_, err = config.FromViper(v)
		Expect(err).To(MatchError(ContainSubstring("unknown storage driver")))
	})
})

var _ = Describe("Flags", func() {
	It("registers flags with defaults from NewDefaultConfig", func() {
		var (
			listen string
			batch  uint
		)
		cmd := &cobra.Command{Use: "serve"}
		config.AddStringFlag(cmd, config.Flags, config.FlagListen, &listen)
		config.AddUintFlag(cmd, config.Flags, config.FlagBatchSize, &batch)

		Expect(listen).To(Equal(":8080"))
		Expect(batch).To(Equal(uint(25)))
		Expect(cmd.Flags().ShorthandLookup("l")).NotTo(BeNil())
	})

	It("ignores unknown registry keys", func() {
		var s string
		cmd := &cobra.Command{Use: "serve"}
		config.AddStringFlag(cmd, config.Flags, "nope", &s)
		Expect(cmd.Flags().HasFlags()).To(BeFalse())
	})

	It("maps every registered flag to a valid config key", func() {
		for name, f := range config.Flags {
			Expect(config.IsValidConfigKey(f.ViperKey)).To(BeTrue(), name)
		}
	})
})

var _ = Describe("Live", func() {
	It("returns the configuration it holds", func() {
		cfg := config.NewDefaultConfig()
		live := config.NewLive(cfg)
		Expect(live.Load()).To(BeIdenticalTo(cfg))
	})
})

var _ = Describe("Resolve", func() {
	It("reads the config directory flag and binds registry flags", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[gateway]\nlisten = \":7000\"\n"), 0o600)).To(Succeed())

		var (
			listen string
			driver string
		)
		cmd := &cobra.Command{Use: "serve"}
		cmd.Flags().String("config-dir", dir, "")
		config.AddStringFlag(cmd, config.Flags, config.FlagListen, &listen)
		config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &driver)
		Expect(cmd.Flags().Set("storage-driver", "memory")).To(Succeed())

		v, cfg, err := config.Resolve(cmd, []string{config.FlagListen, config.FlagStorageDriver})
		Expect(err).NotTo(HaveOccurred())
		Expect(v.ConfigFileUsed()).To(Equal(filepath.Join(dir, "config.toml")))
		Expect(cfg.Gateway.Listen).To(Equal(":7000"))
		Expect(cfg.Storage.Driver).To(Equal(config.DriverMemory))
	})
})
