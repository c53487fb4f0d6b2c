package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/state"
)

var stateCommand = cli.Command{
	Name:      "state",
	Usage:     "output the state of a container",
	ArgsUsage: "<id>",
	Action: func(ctx *cli.Context) error {
		id := ctx.Args().First()
		if id == "" {
			return kerror.New(kerror.User, "state", fmt.Errorf("container id is required"))
		}
		st, err := state.Load(ctx.GlobalString("root"), id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}
