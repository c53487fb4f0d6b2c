package channel

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestTokenRoundTrip(t *testing.T) {
	parent, child, err := NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer parent.Close()
	defer child.Close()

	if err := parent.WriteToken(SyncUsermapPls); err != nil {
		t.Fatalf("WriteToken: %v", err)
	}
	if err := child.ExpectToken(SyncUsermapPls); err != nil {
		t.Fatalf("ExpectToken: %v", err)
	}
}

func TestExpectTokenMismatch(t *testing.T) {
	parent, child, err := NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer parent.Close()
	defer child.Close()

	if err := parent.WriteToken(SyncGrandchild); err != nil {
		t.Fatalf("WriteToken: %v", err)
	}
	if err := child.ExpectToken(SyncChildFinish); err == nil {
		t.Fatal("expected mismatch error, got nil")
	}
}

func TestPidRoundTrip(t *testing.T) {
	parent, child, err := NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer parent.Close()
	defer child.Close()

	if err := parent.WritePid(4242); err != nil {
		t.Fatalf("WritePid: %v", err)
	}
	got, err := child.ReadPid()
	if err != nil {
		t.Fatalf("ReadPid: %v", err)
	}
	if got != 4242 {
		t.Fatalf("ReadPid = %d, want 4242", got)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	parent, child, err := NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer parent.Close()
	defer child.Close()

	want := Message{Type: MsgInitReady, Pid: 99}
	if err := parent.SendMessage(want); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	got, err := child.RecvMessage(MsgInitReady)
	if err != nil {
		t.Fatalf("RecvMessage: %v", err)
	}
	if got.Pid != want.Pid {
		t.Fatalf("RecvMessage pid = %d, want %d", got.Pid, want.Pid)
	}
}

func TestRecvMessageSurfacesOtherError(t *testing.T) {
	parent, child, err := NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer parent.Close()
	defer child.Close()

	if err := parent.SendMessage(Message{Type: MsgOtherError, Error: "boom"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, err := child.RecvMessage(MsgInitReady); err == nil {
		t.Fatal("expected error from OtherError message, got nil")
	}
}

func TestFDRoundTrip(t *testing.T) {
	parent, child, err := NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer parent.Close()
	defer child.Close()

	// Use one endpoint's own fd as the payload; it exists for the
	// duration of the test so ParseUnixRights has something real to hand
	// back.
	if err := parent.SendFD(parent.FD()); err != nil {
		t.Fatalf("SendFD: %v", err)
	}
	fd, err := child.RecvFD()
	if err != nil {
		t.Fatalf("RecvFD: %v", err)
	}
	if fd < 0 {
		t.Fatalf("RecvFD = %d, want a valid fd", fd)
	}
	_ = unix.Close(fd)
}
