package bootstrap

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/libcontainer/channel"
	"github.com/ternbusty/kontainer-runtime/libcontainer/cgroups"
	"github.com/ternbusty/kontainer-runtime/libcontainer/configs"
	"github.com/ternbusty/kontainer-runtime/libcontainer/system"
	"github.com/ternbusty/kontainer-runtime/libcontainer/notify"
	"github.com/ternbusty/kontainer-runtime/libcontainer/userns"
)

// Result is everything Stage-0 hands back to the command dispatcher once
// Stage-2 is running and waiting on the notify socket.
type Result struct {
	Pid         int
	CgroupPath  string
	MainChannel *channel.Pair
}

// Create drives the whole Stage-0 side of spec.md §4.1: re-exec Stage-1,
// run the uid/gid-map protocol, apply cgroup and rlimits while Stage-1
// still holds host root, and return once Stage-2 has signalled
// SYNC_CHILD_FINISH. The returned MainChannel is the persistent
// Stage-0/Stage-2 socketpair the caller reads InitReady from.
func Create(id string, cfg *configs.Config, bundlePath string, notifyListener *os.File) (*Result, error) {
	parentSync, childSync, err := channel.NewSocketPair()
	if err != nil {
		return nil, err
	}
	mainParent, mainChild, err := channel.NewSocketPair()
	if err != nil {
		return nil, err
	}

	cmd, err := reexecSelf()
	if err != nil {
		return nil, kerror.New(kerror.ChildLifecycle, "resolve self executable", err)
	}
	cmd.Dir = bundlePath

	childSyncFile := os.NewFile(uintptr(childSync.FD()), "kontainer-syncpipe")
	mainChildFile := os.NewFile(uintptr(mainChild.FD()), "kontainer-mainchannel")
	cmd.ExtraFiles = []*os.File{childSyncFile, mainChildFile, notifyListener}

	cmd.Env = append(os.Environ(),
		setFDEnv(envSyncPipe, 3),
		setFDEnv(envMainSenderFD, 4),
		setFDEnv(envInitReceiverFD, 4),
		setFDEnv(envNotifyFD, 5),
		envBundlePath+"="+bundlePath,
		envRootfsPath+"="+cfg.Rootfs,
		envNotifySocket+"="+notify.Path(id),
		envContainerID+"="+id,
		setHexEnv(envCloneFlags, cloneFlagsExcludingUser(cfg.Namespaces)),
	)

	// CLONE_PARENT: Stage-1 is forked as a sibling of Stage-0, so it is
	// reaped by Stage-0's parent, not Stage-0 itself (spec.md §4.1).
	cmd.SysProcAttr = &sysProcAttrCloneParent

	if err := cmd.Start(); err != nil {
		return nil, kerror.New(kerror.ChildLifecycle, "start stage-1", err)
	}
	_ = childSync.Close()
	_ = mainChild.Close()
	_ = childSyncFile.Close()
	_ = mainChildFile.Close()

	log.WithField("stage", "stage0").Debug("stage-1 started")

	var stage1Pid int
	if cfg.HasNamespace(configs.NEWUSER) {
		if err := parentSync.ExpectToken(channel.SyncUsermapPls); err != nil {
			return nil, err
		}
		stage1Pid, err = parentSync.ReadPid()
		if err != nil {
			return nil, err
		}
		if userns.ShouldDenySetgroups() {
			if err := userns.DenySetgroups(stage1Pid); err != nil {
				return nil, kerror.New(kerror.Mapping, "deny setgroups", err)
			}
		}
		uidContent := userns.WriteMapping(cfg.UIDMappings, os.Geteuid())
		if err := userns.WriteUIDMap(stage1Pid, uidContent); err != nil {
			return nil, kerror.New(kerror.Mapping, "write uid_map", err)
		}
		gidContent := userns.WriteMapping(cfg.GIDMappings, os.Getegid())
		if err := userns.WriteGIDMap(stage1Pid, gidContent); err != nil {
			return nil, kerror.New(kerror.Mapping, "write gid_map", err)
		}
		if err := parentSync.WriteToken(channel.SyncUsermapAck); err != nil {
			return nil, err
		}
	} else {
		// No user namespace: Stage-1 skips the mapping handshake and goes
		// straight to reporting its own PID so cgroup/rlimit setup can run.
		stage1Pid, err = parentSync.ReadPid()
		if err != nil {
			return nil, err
		}
	}

	stage2Pid, err := parentSync.ReadPid()
	if err != nil {
		return nil, err
	}

	// Pre-namespace setup: Stage-1 still has host root at this point, so
	// Stage-0 must drive cgroup creation and rlimit application now. Stage-2
	// has already been forked, so it is enrolled and limited by pid too.
	cgroupPath, err := cgroups.Setup(stage1Pid, cfg.CgroupsPath, cfg.Resources)
	if err != nil {
		return nil, err
	}
	if err := cgroups.WriteCgroupProc(cgroupPath, stage2Pid); err != nil {
		return nil, kerror.New(kerror.Cgroup, "join cgroup stage-2", err)
	}
	for _, pid := range []int{stage1Pid, stage2Pid} {
		for _, rl := range cfg.Process.Rlimits {
			limit := unix.Rlimit{Cur: rl.Soft, Max: rl.Hard}
			if err := system.Prlimit(pid, rl.Type, limit); err != nil {
				return nil, kerror.New(kerror.Mapping, fmt.Sprintf("prlimit pid %d", pid), err)
			}
		}
	}

	if err := parentSync.ExpectToken(channel.SyncChildFinish); err != nil {
		return nil, err
	}
	_ = parentSync.Close()

	return &Result{Pid: stage2Pid, CgroupPath: cgroupPath, MainChannel: mainParent}, nil
}
