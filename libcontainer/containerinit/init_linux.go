// Package containerinit implements the Stage-2 finalizer spec.md §4.2
// describes: the in-container setup that runs exactly once between
// becoming PID 1 and exec'ing the user process. Step ordering here is
// load-bearing.
package containerinit

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/libcontainer/capabilities"
	"github.com/ternbusty/kontainer-runtime/libcontainer/channel"
	"github.com/ternbusty/kontainer-runtime/libcontainer/cgroups"
	"github.com/ternbusty/kontainer-runtime/libcontainer/configs"
	"github.com/ternbusty/kontainer-runtime/libcontainer/rootfs"
	"github.com/ternbusty/kontainer-runtime/libcontainer/seccomp"
	"github.com/ternbusty/kontainer-runtime/libcontainer/system"
	"github.com/ternbusty/kontainer-runtime/libcontainer/userns"
)

// preservedStdioFDs is the number of low file descriptors (stdin/stdout/
// stderr) close_range leaves alone before closing everything else.
const preservedStdioFDs = 3

// Run executes spec.md §4.2 steps 1-18 and, on success, replaces this
// process image via execvp — it does not return except on error.
func Run(mainChannel *channel.Pair, notifyListenerFD int, notifySocketPath string, cfg *configs.Config, bundlePath string) error {
	log := log.WithField("stage", "init")

	// Step 1: verify PID 1 when a PID namespace is active.
	if cfg.HasNamespace(configs.NEWPID) && os.Getpid() != 1 {
		return kerror.New(kerror.Configuration, "verify pid 1", fmt.Errorf("getpid()=%d, want 1", os.Getpid()))
	}

	// Step 2: cgroup membership. Stage-0 has already created the cgroup and
	// enrolled Stage-1 and Stage-2 by pid; without a user namespace this
	// process also runs cgroups.Setup on itself here.
	if !cfg.HasNamespace(configs.NEWUSER) {
		if _, err := cgroups.Setup(os.Getpid(), cfg.CgroupsPath, cfg.Resources); err != nil {
			return err
		}
	}

	// Step 3: user-namespace mapping is already complete; confirm identity.
	if cfg.HasNamespace(configs.NEWUSER) {
		if unix.Geteuid() != 0 || unix.Getegid() != 0 {
			return kerror.New(kerror.Mapping, "confirm root in userns",
				fmt.Errorf("euid=%d egid=%d, want 0/0", unix.Geteuid(), unix.Getegid()))
		}
	}

	// Step 4: no_new_privileges, applied before the privileged seccomp path
	// decision below so that decision sees the final value.
	if cfg.Process.NoNewPrivileges {
		if err := system.SetNoNewPrivs(); err != nil {
			return kerror.New(kerror.Capability, "set no_new_privs", err)
		}
	}

	// Step 5: privileged-path seccomp, while still holding CAP_SYS_ADMIN.
	if !cfg.Process.NoNewPrivileges {
		if err := installSeccomp(mainChannel, cfg, notifySocketPath); err != nil {
			return err
		}
	}

	// Step 6: hostname.
	if cfg.HasNamespace(configs.NEWUTS) && cfg.Hostname != "" {
		if err := unix.Sethostname([]byte(cfg.Hostname)); err != nil {
			return kerror.New(kerror.Namespace, "sethostname", err)
		}
	}

	// Step 7: rootfs preparation and pivot_root.
	if cfg.HasNamespace(configs.NEWNS) {
		if err := rootfs.Prepare(cfg.Rootfs, cfg.Readonly); err != nil {
			return err
		}
	}

	// Step 8: cwd.
	if err := unix.Chdir(cfg.Process.Cwd); err != nil {
		return kerror.New(kerror.Filesystem, fmt.Sprintf("chdir %s", cfg.Process.Cwd), err)
	}

	// Step 9: LISTEN_FDS passthrough.
	env := append([]string{}, cfg.Process.Env...)
	preserveFds := 0
	if n := os.Getenv("LISTEN_FDS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			preserveFds = v
			env = append(env, "LISTEN_FDS="+n, "LISTEN_PID=1")
		}
	}

	// Step 10: drop the bounding set while still effective root in the
	// user namespace, before the uid/gid transition.
	var bounding []string
	if cfg.Process.Capabilities != nil {
		bounding = cfg.Process.Capabilities.Bounding
	}
	if err := capabilities.DropBounding(bounding); err != nil {
		return err
	}

	// Step 11: the KEEPCAPS dance across the uid/gid transition.
	if err := system.SetKeepCaps(true); err != nil {
		return kerror.New(kerror.Capability, "set keepcaps", err)
	}
	if !userns.IsSetgroupsDenied() && len(cfg.Process.User.AdditionalGids) > 0 {
		gids := make([]int, len(cfg.Process.User.AdditionalGids))
		for i, g := range cfg.Process.User.AdditionalGids {
			gids[i] = int(g)
		}
		if err := unix.Setgroups(gids); err != nil {
			return kerror.New(kerror.User, "setgroups", err)
		}
	}
	if err := unix.Setgid(cfg.Process.User.GID); err != nil {
		return kerror.New(kerror.User, "setgid", err)
	}
	if err := unix.Setuid(cfg.Process.User.UID); err != nil {
		return kerror.New(kerror.User, "setuid", err)
	}
	if err := system.SetKeepCaps(false); err != nil {
		return kerror.New(kerror.Capability, "unset keepcaps", err)
	}

	// Step 12: the remaining capability sets.
	if err := capabilities.Apply(cfg.Process.Capabilities); err != nil {
		return err
	}

	// Step 13: unprivileged-path seccomp, after privileges are dropped.
	if cfg.Process.NoNewPrivileges {
		if err := installSeccomp(mainChannel, cfg, notifySocketPath); err != nil {
			return err
		}
	}

	// Step 14: signal readiness.
	if err := mainChannel.SendMessage(channel.Message{Type: channel.MsgInitReady, Pid: os.Getpid()}); err != nil {
		return err
	}

	// Step 15: close private channel endpoints, then CVE-2024-21626's
	// close_range(3+preserveFds, ~0, CLOEXEC) mitigation.
	_ = mainChannel.Close()
	if err := system.CloseRangeCloExec(uint(preservedStdioFDs + preserveFds)); err != nil {
		return kerror.New(kerror.Filesystem, "close_range cloexec", err)
	}

	// Step 16: rendezvous with "start".
	listener := os.NewFile(uintptr(notifyListenerFD), "kontainer-notifylistener")
	if err := waitForStart(listener); err != nil {
		return err
	}

	// Step 17: environment.
	clearenv()
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			_ = os.Setenv(parts[0], parts[1])
		}
	}

	// Step 18: exec.
	args := cfg.Process.Args
	binPath, err := exec.LookPath(args[0])
	if err != nil {
		_ = mainChannel.SendMessage(channel.Message{Type: channel.MsgExecFailed, Error: err.Error()})
		os.Exit(127)
	}
	log.WithField("argv0", binPath).Debug("exec")
	if err := unix.Exec(binPath, args, os.Environ()); err != nil {
		_ = mainChannel.SendMessage(channel.Message{Type: channel.MsgExecFailed, Error: err.Error()})
		os.Exit(127)
	}
	return nil
}

func clearenv() {
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) > 0 {
			_ = os.Unsetenv(parts[0])
		}
	}
}

func installSeccomp(mainChannel *channel.Pair, cfg *configs.Config, notifySocketPath string) error {
	if cfg.Seccomp == nil {
		return nil
	}
	filter, err := seccomp.Compile(cfg.Seccomp)
	if err != nil {
		return err
	}
	if filter.NotifyFD < 0 {
		return nil
	}
	// spec.md §4.4/§4.6: the listener-path protocol is connect/write-
	// state/send-fd/close with no return ack, so only the mainChannel
	// hand-off (which the dispatcher acknowledges) waits for
	// SeccompNotifyDone.
	if cfg.Seccomp.ListenerPath != "" {
		if err := seccomp.ForwardNotifyFD(cfg.Seccomp.ListenerPath, filter.NotifyFD, notifySocketPath); err != nil {
			return err
		}
		_ = unix.Close(filter.NotifyFD)
		return nil
	}
	if err := mainChannel.SendMessage(channel.Message{Type: channel.MsgSeccompNotify}); err != nil {
		return err
	}
	if err := mainChannel.SendFD(filter.NotifyFD); err != nil {
		return err
	}
	_ = unix.Close(filter.NotifyFD)
	if _, err := mainChannel.RecvMessage(channel.MsgSeccompNotifyDone); err != nil {
		return err
	}
	return nil
}

func waitForStart(listener *os.File) error {
	fd := int(listener.Fd())
	connFD, _, err := unix.Accept(fd)
	if err != nil {
		return kerror.New(kerror.Rendezvous, "accept notify connection", err)
	}
	defer unix.Close(connFD)

	buf := make([]byte, 64)
	n, err := unix.Read(connFD, buf)
	if err != nil {
		return kerror.New(kerror.Rendezvous, "read notify message", err)
	}
	if n == 0 {
		return kerror.New(kerror.Rendezvous, "read notify message", fmt.Errorf("empty message"))
	}
	return nil
}
