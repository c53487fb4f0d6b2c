// Package bootstrap drives the Stage-0/1/2 process choreography spec.md
// §4.1 calls THE CORE: the multi-stage fork/unshare/sync sequence that
// turns an ordinary host process into PID 1 of an isolated container.
package bootstrap

import (
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// stage1Sentinel is the argv[0]-adjacent marker a re-exec'd Stage-1 looks
// for. Go's runtime spins up a handful of goroutine-backed threads (the
// GC, the sysmon thread) before main() runs any further than its first
// line, which conflicts with unshare(CLONE_NEWUSER)'s single-threaded-
// caller requirement. Re-executing the binary with this sentinel lets
// Stage1Main intercept control at the very top of main(), before package
// init of anything heavier has a chance to start a thread (spec.md §9,
// grounded on the teacher pack's self-reexec-via-os.Executable() pattern).
const stage1Sentinel = "kontainer-stage1"

// stage2Sentinel is the equivalent marker for the child Stage-1 forks once
// it has unshared CLONE_NEWPID: the new process becomes PID 1 of the new
// PID namespace by virtue of being created after that unshare.
const stage2Sentinel = "kontainer-stage2"

// IsStage1Reexec reports whether the current process was launched as the
// Stage-1 re-exec target. main() must check this before anything else.
func IsStage1Reexec() bool {
	return len(os.Args) > 1 && os.Args[1] == stage1Sentinel
}

// IsStage2Reexec reports whether the current process was launched as the
// Stage-2 re-exec target.
func IsStage2Reexec() bool {
	return len(os.Args) > 1 && os.Args[1] == stage2Sentinel
}

// reexecSelf returns an *exec.Cmd that will, when started, run the current
// binary with the sentinel argv so the new process's main() dispatches
// straight into Stage1Main instead of the CLI.
func reexecSelf() (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(self, stage1Sentinel)
	return cmd, nil
}

// reexecStage2 is reexecSelf's Stage-2 counterpart, called from within
// Stage-1 after the PID namespace has been unshared.
func reexecStage2() (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(self, stage2Sentinel)
	return cmd, nil
}

func logFields(stage string) *log.Entry {
	return log.WithField("stage", stage)
}
