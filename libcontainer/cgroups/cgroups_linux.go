// Package cgroups manages a single cgroup v2 group: creation, controller
// enablement, resource-limit writes, pid enrollment and cleanup. v1 is out
// of scope per spec.md's Non-goals.
package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/moby/sys/mountinfo"
	log "github.com/sirupsen/logrus"
	"github.com/willf/bitset"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/libcontainer/configs"
)

const unifiedMountpoint = "/sys/fs/cgroup"

// controller bit positions in the required-controller bitset.
const (
	bitMemory uint = iota
	bitCPU
)

// IsUnifiedMode reports whether the host runs cgroup v2 only, checked via
// moby/sys/mountinfo the way the teacher's fs2.UnifiedMountpoint /
// cgroups.IsCgroup2UnifiedMode pairing does.
func IsUnifiedMode() bool {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(unifiedMountpoint))
	if err != nil || len(mounts) == 0 {
		return false
	}
	return mounts[0].FSType == "cgroup2"
}

// requiredControllers returns the set of controllers a resource spec needs.
func requiredControllers(r *configs.Resources) *bitset.BitSet {
	b := bitset.New(2)
	if r == nil {
		return b
	}
	if r.Memory != nil {
		b.Set(bitMemory)
	}
	if r.CPU != nil {
		b.Set(bitCPU)
	}
	return b
}

// Path returns the absolute cgroup directory for a configured path
// (relative to the unified mountpoint) or, if empty, the fallback
// "kontainer-<pid>" path from spec.md §4.3.
func Path(pid int, configured string) string {
	if configured != "" {
		return filepath.Join(unifiedMountpoint, configured)
	}
	return filepath.Join(unifiedMountpoint, fmt.Sprintf("kontainer-%d", pid))
}

// Setup creates the cgroup directory, enables required controllers, joins
// pid, and applies resource limits. Returns the absolute cgroup path.
func Setup(pid int, configuredPath string, resources *configs.Resources) (string, error) {
	path := Path(pid, configuredPath)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", kerror.New(kerror.Cgroup, "mkdir cgroup", err)
	}

	required := requiredControllers(resources)
	if required.Test(bitMemory) {
		if err := enableController(path, "memory"); err != nil {
			return "", kerror.New(kerror.Cgroup, "enable memory controller", err)
		}
	}
	if required.Test(bitCPU) {
		if err := enableController(path, "cpu"); err != nil {
			return "", kerror.New(kerror.Cgroup, "enable cpu controller", err)
		}
	}

	if err := WriteCgroupProc(path, pid); err != nil {
		return "", kerror.New(kerror.Cgroup, "join cgroup", err)
	}

	applyResources(path, resources)
	return path, nil
}

// enableController writes "+<name>" to the top-level
// /sys/fs/cgroup/cgroup.subtree_control, per spec.md §4.3. Failure here is
// fatal only if a resource needing this controller was requested, which
// the caller already guarantees by only calling enableController for
// required controllers.
func enableController(path, name string) error {
	f := filepath.Join(unifiedMountpoint, "cgroup.subtree_control")
	return os.WriteFile(f, []byte("+"+name), 0o644)
}

// WriteCgroupProc writes pid to <path>/cgroup.procs.
func WriteCgroupProc(path string, pid int) error {
	return os.WriteFile(filepath.Join(path, "cgroup.procs"), []byte(strconv.Itoa(pid)), 0o644)
}

func applyResources(path string, r *configs.Resources) {
	if r == nil {
		return
	}
	if r.Memory != nil {
		applyMemory(path, r.Memory)
	}
	if r.CPU != nil {
		applyCPU(path, r.CPU)
	}
}

func applyMemory(path string, m *configs.Memory) {
	writeLimit := func(file string, v *int64) {
		if v == nil {
			return
		}
		val := "max"
		if *v != -1 {
			val = strconv.FormatInt(*v, 10)
		}
		writeBestEffort(filepath.Join(path, file), val)
	}
	writeLimit("memory.max", m.Limit)
	writeLimit("memory.low", m.Reservation)
	if m.Swap != nil {
		val := "max"
		if *m.Swap != -1 && m.Limit != nil && *m.Limit != -1 {
			val = strconv.FormatInt(*m.Swap-*m.Limit, 10)
		}
		writeBestEffort(filepath.Join(path, "memory.swap.max"), val)
	}
}

// cpuWeight converts the legacy v1 "shares" value into a v2 cpu.weight,
// per the clamp formula spec.md §4.3 spells out.
func cpuWeight(shares uint64) uint64 {
	w := 1 + ((shares-2)*9999)/262142
	if w < 1 {
		return 1
	}
	if w > 10000 {
		return 10000
	}
	return w
}

func applyCPU(path string, c *configs.CPU) {
	if c.Shares != nil && *c.Shares != 0 {
		w := cpuWeight(*c.Shares)
		writeBestEffort(filepath.Join(path, "cpu.weight"), strconv.FormatUint(w, 10))
	}
	if c.Quota != nil || c.Period != nil {
		quota := "max"
		if c.Quota != nil && *c.Quota > 0 {
			quota = strconv.FormatInt(*c.Quota, 10)
		}
		period := uint64(100000)
		if c.Period != nil && *c.Period != 0 {
			period = *c.Period
		}
		val := fmt.Sprintf("%s %d", quota, period)
		writeBestEffort(filepath.Join(path, "cpu.max"), val)
	}
}

// writeBestEffort implements spec.md §7's "resource-limit writes:
// best-effort warn-only" policy: a failed write is logged, never
// returned, so the container still runs with whatever limit the kernel
// default leaves in place.
func writeBestEffort(path, value string) {
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		log.WithError(err).WithField("file", path).Warn("cgroup resource-limit write failed")
	}
}

// Cleanup removes the cgroup directory. Failure is never fatal, per
// spec.md §4.3: the callers discard the returned error.
func Cleanup(path string) error {
	if path == "" {
		return nil
	}
	return os.Remove(path)
}

// GetMemoryUsage reads memory.current, returning 0 if the controller
// isn't enabled on this cgroup (e.g. no memory limit was requested).
func GetMemoryUsage(path string) (int64, error) {
	b, err := os.ReadFile(filepath.Join(path, "memory.current"))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, kerror.New(kerror.Cgroup, "read memory.current", err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, kerror.New(kerror.Cgroup, "parse memory.current", err)
	}
	return v, nil
}

// GetPids reads cgroup.procs and returns the integer pid list.
func GetPids(path string) ([]int, error) {
	b, err := os.ReadFile(filepath.Join(path, "cgroup.procs"))
	if err != nil {
		return nil, kerror.New(kerror.Cgroup, "read cgroup.procs", err)
	}
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, kerror.New(kerror.Cgroup, "parse cgroup.procs", err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
