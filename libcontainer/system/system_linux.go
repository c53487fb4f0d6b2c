// Package system wraps the handful of prctl/close_range primitives the
// bootstrap pipeline and init finalizer need, the way the teacher's
// libcontainer/system package does for Stat/ParentDeathSignal.
package system

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// SetDumpable flips PR_SET_DUMPABLE, required around the uid/gid_map
// protocol (spec.md §4.1 step 1/3).
func SetDumpable(dumpable bool) error {
	v := 0
	if dumpable {
		v = 1
	}
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, uintptr(v), 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_DUMPABLE, %d): %w", v, err)
	}
	return nil
}

// SetKeepCaps flips PR_SET_KEEPCAPS, used across the uid/gid setuid/setgid
// transition in the init finalizer (spec.md §4.2 step 11).
func SetKeepCaps(keep bool) error {
	v := 0
	if keep {
		v = 1
	}
	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, uintptr(v), 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_KEEPCAPS, %d): %w", v, err)
	}
	return nil
}

// SetNoNewPrivs sets PR_SET_NO_NEW_PRIVS irreversibly.
func SetNoNewPrivs() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", err)
	}
	return nil
}

// DropBoundingCap drops a single capability from the bounding set via
// PR_CAPBSET_DROP. Must be called while effective root inside the user ns,
// before the uid/gid transition (spec.md §4.2 step 10).
func DropBoundingCap(cap uintptr) error {
	if err := unix.Prctl(unix.PR_CAPBSET_DROP, cap, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_CAPBSET_DROP, %d): %w", cap, err)
	}
	return nil
}

// SetKeepable prctl(PR_SET_SECUREBITS,...) is intentionally not used here:
// this runtime relies on PR_SET_KEEPCAPS alone, matching spec.md's
// prescribed sequence.

// CloseRangeCloExec marks every fd in [first, unix.CLOSE_RANGE_UNLIMITED]
// as close-on-exec via close_range(2), falling back to iterating
// /proc/self/fd when the syscall is unsupported. This is the
// CVE-2024-21626 mitigation spec.md §4.2 step 15 and §7 require.
func CloseRangeCloExec(first uint) error {
	err := unix.CloseRange(first, unix.CLOSE_RANGE_UNLIMITED, unix.CLOSE_RANGE_CLOEXEC)
	if err == nil {
		return nil
	}
	if err != unix.ENOSYS && err != unix.EINVAL {
		return fmt.Errorf("close_range: %w", err)
	}
	return closeRangeFallback(first)
}

func closeRangeFallback(first uint) error {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return fmt.Errorf("close_range fallback: read /proc/self/fd: %w", err)
	}
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil || fd < int(first) {
			continue
		}
		if _, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); errno != 0 {
			return fmt.Errorf("close_range fallback: fcntl(%d, F_SETFD): %w", fd, errno)
		}
	}
	return nil
}

// Prlimit applies a single rlimit to pid, used from Stage-0 while it still
// has host root (spec.md §4.1 "Pre-namespace setup from Stage-0").
func Prlimit(pid int, resource int, limit unix.Rlimit) error {
	return unix.Prlimit(pid, resource, &limit, nil)
}
