package bootstrap

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/libcontainer/channel"
	"github.com/ternbusty/kontainer-runtime/libcontainer/configs"
	"github.com/ternbusty/kontainer-runtime/libcontainer/specconv"
)

// InitFunc is the hand-off from the bootstrap pipeline into the init
// finalizer (spec.md §4.2). Kept as a parameter, not an import, so this
// package never depends on the containerinit package — cmd/kontainer wires them
// together.
type InitFunc func(mainChannel *channel.Pair, notifyListenerFD int, notifySocketPath string, cfg *configs.Config, bundlePath string) error

// Stage2Main is the entire body of the re-exec'd Stage-2 process: the
// handshake that makes it session leader, then a hand-off to fn, which
// never returns on success (it execs the container process).
func Stage2Main(fn InitFunc) {
	log := logFields("stage2")

	syncFD, err := getFDEnv(envSyncPipe)
	if err != nil {
		log.WithError(err).Error("read sync pipe fd")
		os.Exit(1)
	}
	sync := channel.NewPairFromFD(syncFD)

	if err := sync.ExpectToken(channel.SyncGrandchild); err != nil {
		log.WithError(err).Error("await SYNC_GRANDCHILD")
		os.Exit(1)
	}
	if err := unix.Setsid(); err != nil {
		log.WithError(err).Error("setsid")
		os.Exit(1)
	}
	if err := sync.WriteToken(channel.SyncChildFinish); err != nil {
		log.WithError(err).Error("send SYNC_CHILD_FINISH")
		os.Exit(1)
	}
	_ = sync.Close()

	bundlePath := os.Getenv(envBundlePath)
	notifySocketPath := os.Getenv(envNotifySocket)
	mainFD, err := getFDEnv(envMainSenderFD)
	if err != nil {
		log.WithError(err).Error("read main channel fd")
		os.Exit(1)
	}
	notifyFD, err := getFDEnv(envNotifyFD)
	if err != nil {
		log.WithError(err).Error("read notify listener fd")
		os.Exit(1)
	}
	mainChannel := channel.NewPairFromFD(mainFD)

	spec, err := specconv.LoadSpec(bundlePath)
	if err != nil {
		reportOtherError(mainChannel, err)
		os.Exit(1)
	}
	cfg, err := specconv.Convert(spec, bundlePath)
	if err != nil {
		reportOtherError(mainChannel, err)
		os.Exit(1)
	}

	if err := fn(mainChannel, notifyFD, notifySocketPath, cfg, bundlePath); err != nil {
		reportOtherError(mainChannel, err)
		os.Exit(1)
	}
	// fn is expected to execvp the container process and never return on
	// success; reaching here means it returned without erroring, which the
	// init finalizer itself should treat as a bug, not this package.
}

func reportOtherError(ch *channel.Pair, err error) {
	_ = ch.SendMessage(channel.Message{Type: channel.MsgOtherError, Error: err.Error()})
}
