package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/libcontainer/cgroups"
	"github.com/ternbusty/kontainer-runtime/libcontainer/notify"
	"github.com/ternbusty/kontainer-runtime/state"
)

var deleteCommand = cli.Command{
	Name:      "delete",
	Usage:     "delete a container",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "force, f", Usage: "kill the container process if still alive"},
	},
	Action: func(ctx *cli.Context) error {
		id := ctx.Args().First()
		if id == "" {
			return kerror.New(kerror.User, "delete", fmt.Errorf("container id is required"))
		}
		root := ctx.GlobalString("root")
		force := ctx.Bool("force")

		st, err := state.Load(root, id)
		if err != nil {
			if force {
				// Idempotent: deleting a nonexistent id under --force succeeds.
				return nil
			}
			return err
		}

		if !force {
			switch st.Status {
			case state.StatusStopped:
				// nothing to stop first
			case state.StatusCreated:
				if err := killTolerant(st.Pid); err != nil {
					return err
				}
			default:
				return kerror.New(kerror.User, "delete", fmt.Errorf("container %q is %s; use --force", id, st.Status))
			}
		} else if st.Status == state.StatusCreated || st.Status == state.StatusRunning {
			if err := unix.Kill(st.Pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
				return kerror.New(kerror.User, "delete", err)
			}
			// Give the process a moment to actually exit before reaping its
			// cgroup; best-effort only, matching spec.md's no-internal-
			// timeouts / no-retries policy elsewhere.
			time.Sleep(50 * time.Millisecond)
		}

		cfg, err := state.LoadConfig(root, id)
		if err == nil && cfg.CgroupPath != "" {
			_ = cgroups.Cleanup(cfg.CgroupPath)
		}
		_ = notify.Remove(id)
		return state.Remove(root, id)
	},
}

func killTolerant(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return kerror.New(kerror.User, "delete", err)
	}
	return nil
}
