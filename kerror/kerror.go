// Package kerror classifies the failures the runtime can produce so the
// command dispatcher can print one stderr line and the bootstrap pipeline
// can decide what is fatal versus best-effort.
package kerror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind groups an error by the subsystem that raised it, per spec.md §7.
type Kind int

const (
	Configuration Kind = iota
	Filesystem
	Namespace
	Mapping
	Cgroup
	Capability
	IPC
	Rendezvous
	ChildLifecycle
	User
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Filesystem:
		return "filesystem"
	case Namespace:
		return "namespace"
	case Mapping:
		return "mapping"
	case Cgroup:
		return "cgroup"
	case Capability:
		return "capability/seccomp"
	case IPC:
		return "ipc"
	case Rendezvous:
		return "rendezvous"
	case ChildLifecycle:
		return "child lifecycle"
	case User:
		return "user"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps cause as a kerror.Error of the given kind, unless cause is nil.
func New(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.WithStack(cause)}
}

// Wrapf is like New but formats the operation string.
func Wrapf(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return New(kind, fmt.Sprintf(format, args...), cause)
}

// Is reports whether err (or any error it wraps) is a kerror.Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
