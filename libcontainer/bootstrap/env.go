package bootstrap

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ternbusty/kontainer-runtime/kerror"
)

// Environment variable names forming the internal contract between Stage-0
// and the re-exec'd Stage-1/Stage-2 processes (spec.md §6). Every other host
// env var is stripped before the container process itself is exec'd — these
// are consumed by the runtime binary only.
const (
	envSyncPipe       = "_KONTAINER_SYNCPIPE"
	envMainSenderFD   = "_KONTAINER_MAIN_SENDER_FD"
	envInitReceiverFD = "_KONTAINER_INIT_RECEIVER_FD"
	envNotifyFD       = "_KONTAINER_NOTIFY_LISTENER_FD"
	envBundlePath     = "_KONTAINER_BUNDLE_PATH"
	envRootfsPath     = "_KONTAINER_ROOTFS_PATH"
	envNotifySocket   = "_KONTAINER_NOTIFY_SOCKET"
	envCloneFlags     = "_KONTAINER_CLONE_FLAGS"
	envContainerID    = "_KONTAINER_ID"
)

func setFDEnv(name string, fd int) string {
	return fmt.Sprintf("%s=%d", name, fd)
}

func getFDEnv(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return -1, kerror.New(kerror.Configuration, "read "+name, fmt.Errorf("not set"))
	}
	fd, err := strconv.Atoi(v)
	if err != nil {
		return -1, kerror.New(kerror.Configuration, "parse "+name, err)
	}
	return fd, nil
}

func setHexEnv(name string, v uint64) string {
	return fmt.Sprintf("%s=%x", name, v)
}

func getHexEnv(name string) (uint64, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 16, 64)
	if err != nil {
		return 0, kerror.New(kerror.Configuration, "parse "+name, err)
	}
	return n, nil
}
