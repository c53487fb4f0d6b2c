package bootstrap

import (
	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/libcontainer/configs"
)

// nsFlag maps a namespace type to its clone/unshare flag.
var nsFlag = map[configs.NamespaceType]uintptr{
	configs.NEWNS:     unix.CLONE_NEWNS,
	configs.NEWUTS:    unix.CLONE_NEWUTS,
	configs.NEWIPC:    unix.CLONE_NEWIPC,
	configs.NEWUSER:   unix.CLONE_NEWUSER,
	configs.NEWPID:    unix.CLONE_NEWPID,
	configs.NEWNET:    unix.CLONE_NEWNET,
	configs.NEWCGROUP: unix.CLONE_NEWCGROUP,
}

// unshareOrder is the fixed sequence spec.md §4.1 step 4 mandates for
// everything other than the user namespace, which Stage-1 handles
// separately in step 1 before any of these: mount, network, UTS, IPC,
// then PID last, since a PID-namespace unshare only affects processes
// forked afterwards.
var unshareOrder = []configs.NamespaceType{
	configs.NEWNS,
	configs.NEWNET,
	configs.NEWUTS,
	configs.NEWIPC,
	configs.NEWPID,
}

// cloneFlagsExcludingUser packs every requested namespace other than user
// into a single bitmask, passed across the Stage-1 re-exec boundary via
// _KONTAINER_CLONE_FLAGS.
func cloneFlagsExcludingUser(ns configs.Namespaces) uint64 {
	var flags uint64
	for _, t := range ns {
		if t == configs.NEWUSER {
			continue
		}
		if f, ok := nsFlag[t]; ok {
			flags |= uint64(f)
		}
	}
	return flags
}

// unshareRemaining unshares each namespace of unshareOrder that is present
// in flags, in the fixed order spec.md §4.1 step 4 requires. A cgroup-
// namespace bit in flags is not in unshareOrder and is not unshared.
func unshareRemaining(flags uint64) error {
	for _, t := range unshareOrder {
		f := nsFlag[t]
		if flags&uint64(f) == 0 {
			continue
		}
		if err := unix.Unshare(int(f)); err != nil {
			return err
		}
	}
	return nil
}
