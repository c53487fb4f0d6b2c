// Package channel implements the typed message channel and the raw
// 4-byte sync-token protocol spec.md §4.1/§4.5 describe: AF_UNIX
// SOCK_SEQPACKET socketpairs for JSON messages, with SCM_RIGHTS used only
// for the single seccomp notify fd handoff.
package channel

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/kerror"
)

// Sync tokens, spec.md §4.1 "Sync protocol (bytes on the wire)".
type SyncToken uint32

const (
	SyncUsermapPls    SyncToken = 0x40
	SyncUsermapAck    SyncToken = 0x41
	SyncGrandchild    SyncToken = 0x44
	SyncChildFinish   SyncToken = 0x45
)

// Pair is one end of a socketpair, held as a raw fd; callers that hand it
// to exec.Cmd.ExtraFiles wrap FD() in an *os.File themselves.
type Pair struct {
	fd int
}

// NewSocketPair creates an AF_UNIX SOCK_SEQPACKET socketpair, matching the
// channel layer's choice of packet framing over a stream socket.
func NewSocketPair() (parent, child *Pair, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, kerror.New(kerror.IPC, "socketpair", err)
	}
	return &Pair{fd: fds[0]}, &Pair{fd: fds[1]}, nil
}

// FD returns the raw file descriptor, used when wiring into exec.Cmd or
// an env var carrying the fd number across re-exec.
func (p *Pair) FD() int { return p.fd }

// NewPairFromFD wraps an already-open fd, used by a re-exec'd process to
// reconstitute the Pair it inherited at a fixed fd number named by an
// _KONTAINER_* env var.
func NewPairFromFD(fd int) *Pair { return &Pair{fd: fd} }

// Close closes this end.
func (p *Pair) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

// WriteToken writes a 4-byte little-endian sync token.
func (p *Pair) WriteToken(t SyncToken) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(t))
	return p.writeFull(buf[:])
}

// ReadToken reads a fixed-size 4-byte token. A short read fails the
// pipeline per spec.md §4.1 ("All reads are fixed-size; short reads fail
// the pipeline").
func (p *Pair) ReadToken() (SyncToken, error) {
	var buf [4]byte
	if err := p.readFull(buf[:]); err != nil {
		return 0, err
	}
	return SyncToken(binary.LittleEndian.Uint32(buf[:])), nil
}

// ExpectToken reads a token and fails unless it matches want.
func (p *Pair) ExpectToken(want SyncToken) error {
	got, err := p.ReadToken()
	if err != nil {
		return err
	}
	if got != want {
		return kerror.New(kerror.IPC, "expect sync token", fmt.Errorf("got %#x, want %#x", got, want))
	}
	return nil
}

// WritePid writes a 4-byte little-endian pid.
func (p *Pair) WritePid(pid int) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(pid))
	return p.writeFull(buf[:])
}

// ReadPid reads a 4-byte little-endian pid.
func (p *Pair) ReadPid() (int, error) {
	var buf [4]byte
	if err := p.readFull(buf[:]); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(buf[:])), nil
}

func (p *Pair) writeFull(b []byte) error {
	n, err := unix.Write(p.fd, b)
	if err != nil {
		return kerror.New(kerror.IPC, "write", err)
	}
	if n != len(b) {
		return kerror.New(kerror.IPC, "write", fmt.Errorf("short write: %d of %d bytes", n, len(b)))
	}
	return nil
}

func (p *Pair) readFull(b []byte) error {
	n, err := unix.Read(p.fd, b)
	if err != nil {
		return kerror.New(kerror.IPC, "read", err)
	}
	if n != len(b) {
		return kerror.New(kerror.IPC, "read", fmt.Errorf("short read: %d of %d bytes", n, len(b)))
	}
	return nil
}

// MessageType discriminates the sum-type records spec.md §3 "Channels"
// defines for the main channel (used after Stage-2 is running, distinct
// from the raw sync tokens used during Stage-0/1/2 handoff).
type MessageType string

const (
	MsgIntermediateReady MessageType = "IntermediateReady"
	MsgInitReady         MessageType = "InitReady"
	MsgSeccompNotify     MessageType = "SeccompNotify"
	MsgSeccompNotifyDone MessageType = "SeccompNotifyDone"
	MsgExecFailed        MessageType = "ExecFailed"
	MsgOtherError        MessageType = "OtherError"
)

// Message is the JSON envelope sent over the main channel.
type Message struct {
	Type  MessageType `json:"type"`
	Pid   int         `json:"pid,omitempty"`
	Error string      `json:"error,omitempty"`
}

// SendMessage JSON-encodes and sends msg, framed by SOCK_SEQPACKET so the
// receiver gets exactly one datagram per message.
func (p *Pair) SendMessage(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return kerror.New(kerror.IPC, "marshal message", err)
	}
	if err := unix.Send(p.fd, b, 0); err != nil {
		return kerror.New(kerror.IPC, "send message", err)
	}
	return nil
}

// RecvAny reads and decodes one datagram without validating its type,
// used by the command dispatcher to demultiplex SeccompNotify from
// InitReady on the same main channel.
func (p *Pair) RecvAny() (Message, error) {
	buf := make([]byte, 4096)
	n, _, err := unix.Recvfrom(p.fd, buf, 0)
	if err != nil {
		return Message{}, kerror.New(kerror.IPC, "recv message", err)
	}
	var msg Message
	if err := json.Unmarshal(buf[:n], &msg); err != nil {
		return Message{}, kerror.New(kerror.IPC, "unmarshal message", err)
	}
	return msg, nil
}

// RecvMessage reads one datagram and decodes it. Any variant other than
// want is rejected, except ExecFailed/OtherError which always abort the
// caller's wait (spec.md §4.5).
func (p *Pair) RecvMessage(want MessageType) (Message, error) {
	msg, err := p.RecvAny()
	if err != nil {
		return msg, err
	}
	switch msg.Type {
	case want:
		return msg, nil
	case MsgExecFailed, MsgOtherError:
		return msg, kerror.New(kerror.ChildLifecycle, "peer aborted", fmt.Errorf("%s: %s", msg.Type, msg.Error))
	default:
		return msg, kerror.New(kerror.IPC, "recv message", fmt.Errorf("unexpected message type %s, want %s", msg.Type, want))
	}
}

// SendFD sends a single file descriptor via SCM_RIGHTS, used only for the
// seccomp notify fd (spec.md §4.2 step 5/13).
func (p *Pair) SendFD(fd int) error {
	rights := unix.UnixRights(fd)
	if err := unix.Sendmsg(p.fd, []byte{0}, rights, nil, 0); err != nil {
		return kerror.New(kerror.IPC, "sendmsg SCM_RIGHTS", err)
	}
	return nil
}

// RecvFD receives a single file descriptor sent via SCM_RIGHTS.
func (p *Pair) RecvFD() (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := unix.Recvmsg(p.fd, buf, oob, 0)
	if err != nil {
		return -1, kerror.New(kerror.IPC, "recvmsg SCM_RIGHTS", err)
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, kerror.New(kerror.IPC, "parse SCM_RIGHTS", err)
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return -1, kerror.New(kerror.IPC, "recvmsg SCM_RIGHTS", fmt.Errorf("no fd received"))
}
