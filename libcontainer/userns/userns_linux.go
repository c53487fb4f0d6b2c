// Package userns writes uid_map/gid_map for a not-yet-exec'd child and
// implements the CVE-2014-8989 setgroups guard, per spec.md §4.1 step 2.
package userns

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ternbusty/kontainer-runtime/libcontainer/configs"
)

// WriteMapping composes the uid_map/gid_map file content for the given
// mappings, falling back to a single "0 <hostID> 1" line when empty, the
// way spec.md §4.1 step 2 prescribes.
func WriteMapping(maps []configs.IDMap, hostID int) string {
	if len(maps) == 0 {
		return fmt.Sprintf("0 %d 1\n", hostID)
	}
	var b []byte
	for _, m := range maps {
		b = append(b, []byte(fmt.Sprintf("%d %d %d\n", m.ContainerID, m.HostID, m.Size))...)
	}
	return string(b)
}

// ShouldDenySetgroups reports whether Stage-0 must write "deny" to
// Stage-1's /proc/<pid>/setgroups before writing gid_map, per the
// CVE-2014-8989 guard of spec.md §4.1 step 2: only unprivileged callers
// need it, since a privileged caller's gid_map write isn't gated by
// setgroups in the first place.
func ShouldDenySetgroups() bool {
	return os.Geteuid() != 0
}

// DenySetgroups writes "deny" to /proc/<pid>/setgroups.
func DenySetgroups(pid int) error {
	return os.WriteFile(setgroupsPath(pid), []byte("deny"), 0o644)
}

// WriteUIDMap writes the uid_map for pid.
func WriteUIDMap(pid int, content string) error {
	return os.WriteFile(idMapPath(pid, "uid_map"), []byte(content), 0o644)
}

// WriteGIDMap writes the gid_map for pid.
func WriteGIDMap(pid int, content string) error {
	return os.WriteFile(idMapPath(pid, "gid_map"), []byte(content), 0o644)
}

func setgroupsPath(pid int) string {
	return "/proc/" + strconv.Itoa(pid) + "/setgroups"
}

func idMapPath(pid int, which string) string {
	return "/proc/" + strconv.Itoa(pid) + "/" + which
}

// IsSetgroupsDenied reads /proc/self/setgroups, used by the init finalizer
// before writing supplementary groups (spec.md §4.2 step 11).
func IsSetgroupsDenied() bool {
	b, err := os.ReadFile("/proc/self/setgroups")
	if err != nil {
		return false
	}
	return string(b) == "deny\n" || string(b) == "deny"
}
