package bootstrap

import (
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/libcontainer/channel"
	"github.com/ternbusty/kontainer-runtime/libcontainer/configs"
	"github.com/ternbusty/kontainer-runtime/libcontainer/specconv"
	"github.com/ternbusty/kontainer-runtime/libcontainer/system"
)

// Stage1Main is the entire body of the re-exec'd Stage-1 process. It must
// be reached before anything else in main() runs, since unshare(CLONE_
// NEWUSER) requires a single-threaded caller and the Go runtime starts
// background threads (the scavenger, sysmon) once it has a chance to.
func Stage1Main() {
	log := logFields("stage1")

	syncFD, err := getFDEnv(envSyncPipe)
	if err != nil {
		log.WithError(err).Error("read sync pipe fd")
		os.Exit(1)
	}
	sync := channel.NewPairFromFD(syncFD)

	bundlePath := os.Getenv(envBundlePath)
	cloneFlags, err := getHexEnv(envCloneFlags)
	if err != nil {
		log.WithError(err).Error("read clone flags")
		os.Exit(1)
	}

	spec, err := specconv.LoadSpec(bundlePath)
	if err != nil {
		log.WithError(err).Error("load spec")
		os.Exit(1)
	}
	cfg, err := specconv.Convert(spec, bundlePath)
	if err != nil {
		log.WithError(err).Error("convert spec")
		os.Exit(1)
	}

	if cfg.HasNamespace(configs.NEWUSER) {
		if err := unix.Unshare(unix.CLONE_NEWUSER); err != nil {
			abort(sync, kerror.New(kerror.Namespace, "unshare CLONE_NEWUSER", err))
		}
		if err := system.SetDumpable(true); err != nil {
			abort(sync, kerror.New(kerror.Mapping, "set dumpable", err))
		}
		if err := sync.WriteToken(channel.SyncUsermapPls); err != nil {
			abort(sync, err)
		}
		if err := sync.WritePid(os.Getpid()); err != nil {
			abort(sync, err)
		}
		if err := sync.ExpectToken(channel.SyncUsermapAck); err != nil {
			abort(sync, err)
		}
		if err := system.SetDumpable(false); err != nil {
			abort(sync, kerror.New(kerror.Mapping, "unset dumpable", err))
		}
		if err := unix.Setuid(0); err != nil {
			abort(sync, kerror.New(kerror.Mapping, "setuid(0) in userns", err))
		}
		if err := unix.Setgid(0); err != nil {
			abort(sync, kerror.New(kerror.Mapping, "setgid(0) in userns", err))
		}
	} else {
		if err := sync.WritePid(os.Getpid()); err != nil {
			abort(sync, err)
		}
	}

	if err := unshareRemaining(cloneFlags); err != nil {
		abort(sync, kerror.New(kerror.Namespace, "unshare remaining namespaces", err))
	}

	s1s2Parent, s1s2Child, err := channel.NewSocketPair()
	if err != nil {
		abort(sync, err)
	}

	cmd, err := reexecStage2()
	if err != nil {
		abort(sync, kerror.New(kerror.ChildLifecycle, "resolve self executable", err))
	}
	cmd.Dir = bundlePath

	mainFD, err := getFDEnv(envMainSenderFD)
	if err != nil {
		abort(sync, err)
	}
	notifyFD, err := getFDEnv(envNotifyFD)
	if err != nil {
		abort(sync, err)
	}
	childSyncFile := os.NewFile(uintptr(s1s2Child.FD()), "kontainer-s1s2")
	mainFile := os.NewFile(uintptr(mainFD), "kontainer-mainchannel")
	notifyFile := os.NewFile(uintptr(notifyFD), "kontainer-notifylistener")
	cmd.ExtraFiles = []*os.File{childSyncFile, mainFile, notifyFile}
	cmd.Env = append(os.Environ(),
		setFDEnv(envSyncPipe, 3),
		setFDEnv(envMainSenderFD, 4),
		setFDEnv(envInitReceiverFD, 4),
		setFDEnv(envNotifyFD, 5),
	)

	if err := cmd.Start(); err != nil {
		abort(sync, kerror.New(kerror.ChildLifecycle, "start stage-2", err))
	}
	_ = s1s2Child.Close()
	_ = childSyncFile.Close()

	if err := sync.WritePid(cmd.Process.Pid); err != nil {
		abort(sync, err)
	}

	if err := s1s2Parent.WriteToken(channel.SyncGrandchild); err != nil {
		abort(sync, kerror.New(kerror.IPC, "send SYNC_GRANDCHILD", err))
	}
	if err := s1s2Parent.ExpectToken(channel.SyncChildFinish); err != nil {
		abort(sync, err)
	}
	_ = s1s2Parent.Close()

	if err := sync.WriteToken(channel.SyncChildFinish); err != nil {
		abort(sync, err)
	}
	_ = sync.Close()

	os.Exit(0)
}

// abort logs the failure, closes the sync pipe (Stage-0 observes this as a
// read error) and exits non-zero, per spec.md §4.1's failure semantics.
func abort(sync *channel.Pair, err error) {
	logFields("stage1").WithError(err).Error("aborting")
	_ = sync.Close()
	os.Exit(1)
}
