package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/urfave/cli"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/libcontainer/cgroups"
	"github.com/ternbusty/kontainer-runtime/state"
)

var psCommand = cli.Command{
	Name:      "ps",
	Usage:     "list the processes inside a container",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "format, f", Value: "json", Usage: "output format: json|table"},
	},
	Action: func(ctx *cli.Context) error {
		id := ctx.Args().First()
		if id == "" {
			return kerror.New(kerror.User, "ps", fmt.Errorf("container id is required"))
		}
		root := ctx.GlobalString("root")

		cfg, err := state.LoadConfig(root, id)
		if err != nil {
			return err
		}
		if cfg.CgroupPath == "" {
			return kerror.New(kerror.User, "ps", fmt.Errorf("no cgroup recorded for %q", id))
		}
		pids, err := cgroups.GetPids(cfg.CgroupPath)
		if err != nil {
			return err
		}

		switch ctx.String("format") {
		case "table":
			return printTable(pids, cfg.CgroupPath)
		default:
			return printJSON(pids)
		}
	},
}

func printJSON(pids []int) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(pids)
}

// printTable shells out to the host's own "ps -ef" and filters to the
// container's PIDs, humanizing columns the way `ps -ef` users expect
// rather than reimplementing /proc parsing for display purposes. It adds
// a cgroup memory column humanized with go-units, the same library the
// teacher pack uses for resource-size formatting.
func printTable(pids []int, cgroupPath string) error {
	want := make(map[string]bool, len(pids))
	for _, p := range pids {
		want[strconv.Itoa(p)] = true
	}

	out, err := exec.Command("ps", "-ef").Output()
	if err != nil {
		return kerror.New(kerror.User, "ps -ef", err)
	}

	mem, err := cgroups.GetMemoryUsage(cgroupPath)
	if err != nil {
		return err
	}

	lines := strings.Split(string(out), "\n")
	w := tabwriter.NewWriter(os.Stdout, 1, 4, 2, ' ', 0)
	if len(lines) > 0 {
		fmt.Fprintf(w, "%s\tCGROUP-MEM\n", lines[0])
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if want[fields[1]] {
			fmt.Fprintf(w, "%s\t%s\n", line, units.BytesSize(float64(mem)))
		}
	}
	return w.Flush()
}
