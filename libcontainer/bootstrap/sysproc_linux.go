package bootstrap

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttrCloneParent makes the re-exec'd Stage-1 a sibling of Stage-0
// rather than its child, per spec.md §4.1's process-topology requirement.
var sysProcAttrCloneParent = syscall.SysProcAttr{
	Cloneflags: unix.CLONE_PARENT,
}
