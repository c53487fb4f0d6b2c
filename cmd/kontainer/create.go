package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/libcontainer/bootstrap"
	"github.com/ternbusty/kontainer-runtime/libcontainer/channel"
	"github.com/ternbusty/kontainer-runtime/libcontainer/cgroups"
	"github.com/ternbusty/kontainer-runtime/libcontainer/notify"
	"github.com/ternbusty/kontainer-runtime/libcontainer/specconv"
	"github.com/ternbusty/kontainer-runtime/state"
)

var createCommand = cli.Command{
	Name:      "create",
	Usage:     "create a container",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "bundle, b", Value: ".", Usage: "path to the OCI bundle"},
		cli.StringFlag{Name: "pid-file", Usage: "write the container PID to this file"},
	},
	Action: func(ctx *cli.Context) error {
		id := ctx.Args().First()
		if id == "" {
			return kerror.New(kerror.User, "create", fmt.Errorf("container id is required"))
		}
		root := ctx.GlobalString("root")
		bundle, err := filepath.Abs(ctx.String("bundle"))
		if err != nil {
			return err
		}
		return runCreate(root, id, bundle, ctx.String("pid-file"))
	},
}

func runCreate(root, id, bundle, pidFile string) (retErr error) {
	dir := filepath.Join(root, id)
	if _, err := os.Stat(dir); err == nil {
		return kerror.New(kerror.User, "create", fmt.Errorf("container %q already exists", id))
	}

	spec, err := specconv.LoadSpec(bundle)
	if err != nil {
		return err
	}
	cfg, err := specconv.Convert(spec, bundle)
	if err != nil {
		return err
	}

	listener, err := notify.Listen(id)
	if err != nil {
		return err
	}
	listenerFile, err := listener.File()
	if err != nil {
		_ = listener.Close()
		return kerror.New(kerror.Rendezvous, "dup notify listener fd", err)
	}
	listener.SetUnlinkOnClose(false) // "start" still dials the socket path
	_ = listener.Close()             // the dup'd file keeps the listener alive for the child

	defer func() {
		if retErr != nil {
			_ = notify.Remove(id)
			_ = os.RemoveAll(dir)
		}
	}()

	result, err := bootstrap.Create(id, cfg, bundle, listenerFile)
	if err != nil {
		return err
	}
	_ = listenerFile.Close()

	if err := waitForInitReady(result.MainChannel); err != nil {
		if result.CgroupPath != "" {
			_ = cgroups.Cleanup(result.CgroupPath)
		}
		return err
	}

	st := &state.ContainerState{
		OCIVersion: cfg.OCIVersion,
		ID:         id,
		Status:     state.StatusCreated,
		Pid:        result.Pid,
		Bundle:     bundle,
		Created:    time.Now().UTC(),
	}
	if err := state.Save(root, st, &state.KontainerConfig{CgroupPath: result.CgroupPath}); err != nil {
		return err
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", result.Pid)), 0o644); err != nil {
			return kerror.New(kerror.Configuration, "write pid file", err)
		}
	}

	log.WithFields(log.Fields{"id": id, "pid": result.Pid}).Info("container created")
	return nil
}

// waitForInitReady drains the main channel, handling an optional
// SeccompNotify hand-off before the InitReady that marks readiness. No
// supervisor is wired in by default, so a forwarded notify fd is simply
// acknowledged and closed unless the container's own seccomp.listenerPath
// routes it to an external one.
func waitForInitReady(ch *channel.Pair) error {
	for {
		msg, err := ch.RecvAny()
		if err != nil {
			return err
		}
		switch msg.Type {
		case channel.MsgSeccompNotify:
			fd, err := ch.RecvFD()
			if err != nil {
				return err
			}
			_ = unix.Close(fd) // no in-process supervisor wired in by default
			if err := ch.SendMessage(channel.Message{Type: channel.MsgSeccompNotifyDone}); err != nil {
				return err
			}
		case channel.MsgInitReady:
			return nil
		case channel.MsgExecFailed, channel.MsgOtherError:
			return kerror.New(kerror.ChildLifecycle, "stage-2 aborted", fmt.Errorf("%s: %s", msg.Type, msg.Error))
		default:
			return kerror.New(kerror.IPC, "wait for init ready", fmt.Errorf("unexpected message %s", msg.Type))
		}
	}
}
