package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/libcontainer/notify"
	"github.com/ternbusty/kontainer-runtime/state"
)

var startCommand = cli.Command{
	Name:      "start",
	Usage:     "start a created container's process",
	ArgsUsage: "<id>",
	Action: func(ctx *cli.Context) error {
		id := ctx.Args().First()
		if id == "" {
			return kerror.New(kerror.User, "start", fmt.Errorf("container id is required"))
		}
		root := ctx.GlobalString("root")

		st, err := state.Load(root, id)
		if err != nil {
			return err
		}
		if st.Status != state.StatusCreated {
			return kerror.New(kerror.User, "start", fmt.Errorf("container %q is %s, not created", id, st.Status))
		}
		if err := notify.Start(id); err != nil {
			return err
		}
		if err := state.UpdateStatus(root, id, state.StatusRunning); err != nil {
			return err
		}
		log.WithField("id", id).Info("container started")
		return nil
	},
}
