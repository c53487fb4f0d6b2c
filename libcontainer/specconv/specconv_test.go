package specconv

import (
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

func TestRlimitTypeWithPrefix(t *testing.T) {
	v, err := rlimitType("RLIMIT_NOFILE")
	if err != nil {
		t.Fatalf("rlimitType: %v", err)
	}
	if v != unix.RLIMIT_NOFILE {
		t.Fatalf("rlimitType(RLIMIT_NOFILE) = %d, want %d", v, unix.RLIMIT_NOFILE)
	}
}

func TestRlimitTypeBareName(t *testing.T) {
	v, err := rlimitType("nofile")
	if err != nil {
		t.Fatalf("rlimitType: %v", err)
	}
	if v != unix.RLIMIT_NOFILE {
		t.Fatalf("rlimitType(nofile) = %d, want %d", v, unix.RLIMIT_NOFILE)
	}
}

func TestRlimitTypeUnknown(t *testing.T) {
	if _, err := rlimitType("NOT_A_LIMIT"); err == nil {
		t.Fatal("expected error for unknown rlimit name, got nil")
	}
}

func TestValidateRejectsMissingRoot(t *testing.T) {
	spec := &specs.Spec{
		Process: &specs.Process{Args: []string{"sh"}},
	}
	if err := Validate(spec); err == nil {
		t.Fatal("expected error for missing root.path, got nil")
	}
}

func TestValidateRejectsEmptyArgs(t *testing.T) {
	spec := &specs.Spec{
		Root:    &specs.Root{Path: "rootfs"},
		Process: &specs.Process{Args: nil},
	}
	if err := Validate(spec); err == nil {
		t.Fatal("expected error for empty process.args, got nil")
	}
}

func TestValidateRejectsUnsupportedOCIVersion(t *testing.T) {
	spec := &specs.Spec{
		Version: "2.5.0",
		Root:    &specs.Root{Path: "rootfs"},
		Process: &specs.Process{Args: []string{"sh"}},
	}
	if err := Validate(spec); err == nil {
		t.Fatal("expected error for unsupported ociVersion, got nil")
	}
}

func TestValidateAcceptsWellFormedSpec(t *testing.T) {
	spec := &specs.Spec{
		Version: "1.0.2",
		Root:    &specs.Root{Path: "rootfs"},
		Process: &specs.Process{Args: []string{"sh"}},
	}
	if err := Validate(spec); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
