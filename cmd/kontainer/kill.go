package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/state"
)

var signalByName = map[string]unix.Signal{
	"HUP":    unix.SIGHUP,
	"INT":    unix.SIGINT,
	"QUIT":   unix.SIGQUIT,
	"ILL":    unix.SIGILL,
	"TRAP":   unix.SIGTRAP,
	"ABRT":   unix.SIGABRT,
	"BUS":    unix.SIGBUS,
	"FPE":    unix.SIGFPE,
	"KILL":   unix.SIGKILL,
	"USR1":   unix.SIGUSR1,
	"SEGV":   unix.SIGSEGV,
	"USR2":   unix.SIGUSR2,
	"PIPE":   unix.SIGPIPE,
	"ALRM":   unix.SIGALRM,
	"TERM":   unix.SIGTERM,
	"CHLD":   unix.SIGCHLD,
	"CONT":   unix.SIGCONT,
	"STOP":   unix.SIGSTOP,
	"TSTP":   unix.SIGTSTP,
	"TTIN":   unix.SIGTTIN,
	"TTOU":   unix.SIGTTOU,
	"URG":    unix.SIGURG,
	"XCPU":   unix.SIGXCPU,
	"XFSZ":   unix.SIGXFSZ,
	"VTALRM": unix.SIGVTALRM,
	"PROF":   unix.SIGPROF,
	"WINCH":  unix.SIGWINCH,
	"IO":     unix.SIGIO,
	"SYS":    unix.SIGSYS,
}

// parseSignal accepts a bare number, a bare name ("TERM"), or a SIG-
// prefixed name ("SIGTERM"), per spec.md §4.7.
func parseSignal(s string) (unix.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return unix.Signal(n), nil
	}
	name := strings.ToUpper(strings.TrimPrefix(s, "SIG"))
	if sig, ok := signalByName[name]; ok {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}

var killCommand = cli.Command{
	Name:      "kill",
	Usage:     "send a signal to a container",
	ArgsUsage: "<id> <signal>",
	Action: func(ctx *cli.Context) error {
		id := ctx.Args().Get(0)
		sigArg := ctx.Args().Get(1)
		if id == "" || sigArg == "" {
			return kerror.New(kerror.User, "kill", fmt.Errorf("usage: kill <id> <signal>"))
		}
		sig, err := parseSignal(sigArg)
		if err != nil {
			return kerror.New(kerror.User, "kill", err)
		}

		root := ctx.GlobalString("root")
		st, err := state.Load(root, id)
		if err != nil {
			return err
		}
		if st.Status != state.StatusCreated && st.Status != state.StatusRunning {
			return kerror.New(kerror.User, "kill", fmt.Errorf("container %q is %s, cannot signal", id, st.Status))
		}

		if err := unix.Kill(st.Pid, sig); err != nil && err != unix.ESRCH {
			return kerror.New(kerror.User, "kill", err)
		}
		return nil
	},
}
