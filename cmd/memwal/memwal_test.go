package memwalcmder_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	memwalcmder "github.com/papercomputeco/memwal/cmd/memwal"
)

var _ = Describe("NewMemwalCmd", func() {
	execute := func(args ...string) (string, error) {
		cmd := memwalcmder.NewMemwalCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	It("registers every subcommand", func() {
		cmd := memwalcmder.NewMemwalCmd()
		names := []string{}
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("serve", "worker", "reaper", "wal", "config", "version"))
	})

	It("carries the global flags", func() {
		cmd := memwalcmder.NewMemwalCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("log-json")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})

	It("prints the version", func() {
		out, err := execute("version")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Version: dev"))
	})

	It("rejects an invalid storage driver before serving", func() {
		_, err := execute("serve", "--storage-driver", "mongo", "--config-dir", GinkgoT().TempDir())
		Expect(err).To(MatchError(ContainSubstring("unknown storage driver")))
	})

	It("rejects an invalid stale claim timeout before reaping", func() {
		_, err := execute("reaper", "--once", "--stale-claim-timeout", "soon", "--config-dir", GinkgoT().TempDir())
		Expect(err).To(HaveOccurred())
	})

	It("runs a single reaper sweep", func() {
		out, err := execute("reaper", "--once", "--storage-driver", "memory", "--tenants", "acme", "--config-dir", GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Returned 0 stale claim(s) to pending"))
	})

	It("refuses to reap without tenants", func() {
		_, err := execute("reaper", "--once", "--storage-driver", "memory", "--config-dir", GinkgoT().TempDir())
		Expect(err).To(MatchError(ContainSubstring("no tenants configured")))
	})

	It("lists configuration through the root command", func() {
		out, err := execute("config", "list", "--config-dir", GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("[worker]"))
		Expect(out).To(ContainSubstring("batch_size"))
	})
})
