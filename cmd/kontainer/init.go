package main

import (
	"github.com/ternbusty/kontainer-runtime/libcontainer/channel"
	"github.com/ternbusty/kontainer-runtime/libcontainer/configs"
	"github.com/ternbusty/kontainer-runtime/libcontainer/containerinit"
)

// runContainerInit wires Stage-2's hand-off into the init finalizer,
// keeping the bootstrap package free of a dependency on containerinit.
func runContainerInit(mainChannel *channel.Pair, notifyListenerFD int, notifySocketPath string, cfg *configs.Config, bundlePath string) error {
	return containerinit.Run(mainChannel, notifyListenerFD, notifySocketPath, cfg, bundlePath)
}
