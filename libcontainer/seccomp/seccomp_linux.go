// Package seccomp compiles an OCI seccomp spec into a BPF filter via
// libseccomp and, when any rule notifies userspace, forwards the notify fd
// over the listener protocol of spec.md §4.4/§4.6.
package seccomp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	libseccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/libcontainer/configs"
)

var actionMap = map[configs.Action]libseccomp.ScmpAction{
	configs.ActKill:        libseccomp.ActKill,
	configs.ActKillThread:  libseccomp.ActKill,
	configs.ActKillProcess: libseccomp.ActKillProcess,
	configs.ActTrap:        libseccomp.ActTrap,
	configs.ActErrno:       libseccomp.ActErrno,
	configs.ActTrace:       libseccomp.ActTrace,
	configs.ActAllow:       libseccomp.ActAllow,
	configs.ActLog:         libseccomp.ActLog,
	configs.ActNotify:      libseccomp.ActNotify,
}

var archMap = map[string]libseccomp.ScmpArch{
	"SCMP_ARCH_X86":       libseccomp.ArchX86,
	"SCMP_ARCH_X86_64":    libseccomp.ArchAMD64,
	"SCMP_ARCH_X32":       libseccomp.ArchX32,
	"SCMP_ARCH_ARM":       libseccomp.ArchARM,
	"SCMP_ARCH_AARCH64":   libseccomp.ArchARM64,
	"SCMP_ARCH_PPC64":     libseccomp.ArchPPC64,
	"SCMP_ARCH_PPC64LE":   libseccomp.ArchPPC64LE,
	"SCMP_ARCH_S390":      libseccomp.ArchS390,
	"SCMP_ARCH_S390X":     libseccomp.ArchS390X,
}

var opMap = map[configs.Operator]libseccomp.ScmpCompareOp{
	configs.OpNotEqual:     libseccomp.CompareNotEqual,
	configs.OpLessThan:     libseccomp.CompareLess,
	configs.OpLessEqual:    libseccomp.CompareLessOrEqual,
	configs.OpEqualTo:      libseccomp.CompareEqual,
	configs.OpGreaterEqual: libseccomp.CompareGreaterEqual,
	configs.OpGreaterThan:  libseccomp.CompareGreater,
	configs.OpMaskedEqual:  libseccomp.CompareMaskedEqual,
}

// Filter wraps a loaded filter plus the optional notify fd it produced.
type Filter struct {
	NotifyFD int
}

// Compile builds, loads and (if any rule uses SCMP_ACT_NOTIFY) extracts the
// notify fd from an OCI seccomp spec. Rules equal to the default action are
// dropped before being handed to libseccomp, which rejects them outright
// (spec.md §4.4).
func Compile(spec *configs.Seccomp) (*Filter, error) {
	if spec == nil {
		return nil, nil
	}
	defaultAction, ok := actionMap[spec.DefaultAction]
	if !ok {
		return nil, kerror.New(kerror.Capability, "seccomp default action", fmt.Errorf("unknown action %q", spec.DefaultAction))
	}
	if spec.DefaultAction == configs.ActNotify {
		return nil, kerror.New(kerror.Capability, "seccomp default action", fmt.Errorf("SCMP_ACT_NOTIFY forbidden as default action"))
	}

	filter, err := libseccomp.NewFilter(defaultAction)
	if err != nil {
		return nil, kerror.New(kerror.Capability, "new seccomp filter", err)
	}

	arches := spec.Architectures
	for _, a := range arches {
		arch, ok := archMap[a]
		if !ok {
			continue
		}
		if err := filter.AddArch(arch); err != nil {
			return nil, kerror.New(kerror.Capability, "add seccomp arch", err)
		}
	}

	hasNotify := false
	for _, rule := range spec.Syscalls {
		action, ok := actionMap[rule.Action]
		if !ok {
			return nil, kerror.New(kerror.Capability, "seccomp rule action", fmt.Errorf("unknown action %q", rule.Action))
		}
		if action == defaultAction {
			// libseccomp rejects rules equal to the default action.
			continue
		}
		if rule.Action == configs.ActNotify {
			for _, n := range rule.Names {
				if n == "write" {
					return nil, kerror.New(kerror.Capability, "seccomp rule", fmt.Errorf("SCMP_ACT_NOTIFY is forbidden on write"))
				}
			}
			hasNotify = true
		}
		if rule.Action == configs.ActErrno && rule.ErrnoRet != nil {
			action = action.SetReturnCode(int16(*rule.ErrnoRet))
		} else if rule.Action == configs.ActErrno {
			action = action.SetReturnCode(1)
		}
		if rule.Action == configs.ActTrace {
			if rule.ErrnoRet != nil {
				action = action.SetReturnCode(int16(*rule.ErrnoRet))
			} else {
				action = action.SetReturnCode(1)
			}
		}

		for _, name := range rule.Names {
			call, err := libseccomp.GetSyscallFromName(name)
			if err != nil {
				// Unresolvable on this kernel/arch: silent skip (spec.md §4.4).
				continue
			}
			if len(rule.Args) == 0 {
				if err := filter.AddRule(call, action); err != nil {
					return nil, kerror.New(kerror.Capability, fmt.Sprintf("add rule for %s", name), err)
				}
				continue
			}
			// libseccomp requires one rule per argument comparison.
			for _, arg := range rule.Args {
				op, ok := opMap[arg.Op]
				if !ok {
					return nil, kerror.New(kerror.Capability, "seccomp arg operator", fmt.Errorf("unknown operator %q", arg.Op))
				}
				cond, err := libseccomp.MakeCondition(arg.Index, op, arg.Value, arg.ValueTwo)
				if err != nil {
					return nil, kerror.New(kerror.Capability, "make seccomp condition", err)
				}
				if err := filter.AddRuleConditional(call, action, []libseccomp.ScmpCondition{cond}); err != nil {
					return nil, kerror.New(kerror.Capability, fmt.Sprintf("add conditional rule for %s", name), err)
				}
			}
		}
	}

	if err := filter.Load(); err != nil {
		return nil, kerror.New(kerror.Capability, "load seccomp filter", err)
	}

	result := &Filter{NotifyFD: -1}
	if hasNotify {
		fd, err := filter.GetNotifFd()
		if err != nil {
			return nil, kerror.New(kerror.Capability, "get seccomp notify fd", err)
		}
		result.NotifyFD = int(fd)
	}
	return result, nil
}

// ForwardNotifyFD implements the listener protocol of spec.md §4.4/§6:
// connect to listenerPath, write one line of JSON-encoded state, then send
// the notify fd via SCM_RIGHTS.
func ForwardNotifyFD(listenerPath string, notifyFD int, state any) error {
	conn, err := net.Dial("unix", listenerPath)
	if err != nil {
		return kerror.New(kerror.Rendezvous, "dial seccomp listener", err)
	}
	defer conn.Close()

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return kerror.New(kerror.Rendezvous, "dial seccomp listener", fmt.Errorf("not a unix conn"))
	}

	b, err := json.Marshal(state)
	if err != nil {
		return kerror.New(kerror.Rendezvous, "marshal seccomp listener state", err)
	}
	w := bufio.NewWriter(uc)
	if _, err := w.Write(b); err != nil {
		return kerror.New(kerror.Rendezvous, "write seccomp listener state", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return kerror.New(kerror.Rendezvous, "write seccomp listener state", err)
	}
	if err := w.Flush(); err != nil {
		return kerror.New(kerror.Rendezvous, "flush seccomp listener state", err)
	}

	rights := unix.UnixRights(notifyFD)
	raw, err := uc.SyscallConn()
	if err != nil {
		return kerror.New(kerror.Rendezvous, "seccomp listener syscall conn", err)
	}
	var sendErr error
	if err := raw.Control(func(fd uintptr) {
		sendErr = unix.Sendmsg(int(fd), []byte{0}, rights, nil, 0)
	}); err != nil {
		return kerror.New(kerror.Rendezvous, "seccomp listener control", err)
	}
	if sendErr != nil {
		return kerror.New(kerror.Rendezvous, "send seccomp notify fd", sendErr)
	}
	return nil
}

// KnownArchString reports whether s is a recognized OCI architecture name.
// Compile itself skips unrecognized architecture names silently.
func KnownArchString(s string) bool {
	_, ok := archMap[strings.ToUpper(s)]
	return ok
}
