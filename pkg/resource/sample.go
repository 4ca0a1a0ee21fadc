package resource

import (
	"fmt"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/pbnjay/memory"
	"github.com/prometheus/procfs"
)

// ProcessRSS reads this process's resident set size from /proc.
func ProcessRSS() (uint64, error) {
	proc, err := procfs.Self()
	if err != nil {
		return 0, fmt.Errorf("opening /proc/self: %w", err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, fmt.Errorf("reading /proc/self/stat: %w", err)
	}
	return uint64(stat.ResidentMemory()), nil
}

// DetectLimit finds a memory limit when none is configured: the container's
// cgroup limit first, then the machine's total RAM. It returns the limit in
// bytes and where it came from, or zero if neither is available.
func DetectLimit() (uint64, string) {
	if limit, err := memlimit.FromCgroup(); err == nil && limit > 0 {
		return limit, "cgroup"
	}
	if total := memory.TotalMemory(); total > 0 {
		return total, "system"
	}
	return 0, ""
}
