// Package notify implements the AF_UNIX rendezvous socket spec.md §4.6
// describes: "create" binds and listens before any fork, the init
// finalizer accepts exactly once, and "start" connects and writes an
// arbitrary non-empty byte string to unblock it.
package notify

import (
	"fmt"
	"net"
	"os"

	"github.com/ternbusty/kontainer-runtime/kerror"
)

// Path returns the well-known socket path for a container id.
func Path(id string) string {
	return fmt.Sprintf("/tmp/kontainer-%s.sock", id)
}

// Listen creates the server side, bound before the bootstrap pipeline
// forks so the listener fd is inheritable by Stage-2.
func Listen(id string) (*net.UnixListener, error) {
	path := Path(id)
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, kerror.New(kerror.Rendezvous, "resolve notify socket address", err)
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, kerror.New(kerror.Rendezvous, "bind notify socket", err)
	}
	return l, nil
}

// Accept blocks for exactly one connection and reads a short message. The
// message contents are not validated beyond being non-empty, per spec.md
// §4.6.
func Accept(l *net.UnixListener) error {
	conn, err := l.Accept()
	if err != nil {
		return kerror.New(kerror.Rendezvous, "accept notify connection", err)
	}
	defer conn.Close()

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return kerror.New(kerror.Rendezvous, "read notify message", err)
	}
	if n == 0 {
		return kerror.New(kerror.Rendezvous, "read notify message", fmt.Errorf("empty message"))
	}
	return nil
}

// Start connects to the notify socket for id and sends the start signal.
func Start(id string) error {
	conn, err := net.Dial("unix", Path(id))
	if err != nil {
		return kerror.New(kerror.Rendezvous, "dial notify socket", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("start container")); err != nil {
		return kerror.New(kerror.Rendezvous, "write notify message", err)
	}
	return nil
}

// Remove deletes the socket path; ENOENT is tolerated, per spec.md §4.6.
func Remove(id string) error {
	err := os.Remove(Path(id))
	if err != nil && !os.IsNotExist(err) {
		return kerror.New(kerror.Rendezvous, "remove notify socket", err)
	}
	return nil
}
