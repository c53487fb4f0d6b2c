package bootstrap

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/libcontainer/configs"
)

func TestCloneFlagsExcludingUser(t *testing.T) {
	ns := configs.Namespaces{configs.NEWNS, configs.NEWUSER, configs.NEWPID}
	flags := cloneFlagsExcludingUser(ns)

	if flags&unix.CLONE_NEWUSER != 0 {
		t.Fatal("clone flags must never include CLONE_NEWUSER")
	}
	if flags&unix.CLONE_NEWNS == 0 {
		t.Fatal("expected CLONE_NEWNS set")
	}
	if flags&unix.CLONE_NEWPID == 0 {
		t.Fatal("expected CLONE_NEWPID set")
	}
	if flags&unix.CLONE_NEWNET != 0 {
		t.Fatal("did not request CLONE_NEWNET, should be unset")
	}
}

func TestUnshareOrderExcludesUser(t *testing.T) {
	for _, t2 := range unshareOrder {
		if t2 == configs.NEWUSER {
			t.Fatal("unshareOrder must not include the user namespace, Stage-1 handles it separately")
		}
	}
	if len(unshareOrder) != 5 {
		t.Fatalf("unshareOrder has %d entries, want 5", len(unshareOrder))
	}
	if unshareOrder[len(unshareOrder)-1] != configs.NEWPID {
		t.Fatal("PID namespace must unshare last")
	}
}
