package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/ternbusty/kontainer-runtime/libcontainer/bootstrap"
)

func main() {
	// The namespace-creation path must run before the Go runtime has a
	// chance to spin up background threads, so Stage-1/Stage-2 dispatch
	// happens before any flag parsing or cli.App machinery.
	if bootstrap.IsStage1Reexec() {
		bootstrap.Stage1Main()
		return
	}
	if bootstrap.IsStage2Reexec() {
		bootstrap.Stage2Main(runContainerInit)
		return
	}

	app := cli.NewApp()
	app.Name = "kontainer"
	app.Usage = "a minimal OCI-compliant container runtime"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "root",
			Value: "/run/kontainer",
			Usage: "root directory for container state",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "path to log file (default stderr)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log output format: text|json",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug-level logging",
		},
		cli.BoolFlag{
			Name:  "systemd-cgroup",
			Usage: "accepted for OCI caller compatibility; ignored",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		return setupLogging(ctx)
	}
	app.Commands = []cli.Command{
		createCommand,
		startCommand,
		stateCommand,
		killCommand,
		deleteCommand,
		psCommand,
		specCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	if ctx.GlobalBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	switch ctx.GlobalString("log-format") {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{})
	}
	if p := ctx.GlobalString("log"); p != "" {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	return nil
}
