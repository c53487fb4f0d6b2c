package bootstrap

import (
	"os"
	"testing"
)

func TestFDEnvRoundTrip(t *testing.T) {
	const name = "_KONTAINER_TEST_FD"
	_ = os.Unsetenv(name)

	kv := setFDEnv(name, 7)
	if kv != name+"=7" {
		t.Fatalf("setFDEnv = %q, want %q", kv, name+"=7")
	}

	t.Setenv(name, "7")
	fd, err := getFDEnv(name)
	if err != nil {
		t.Fatalf("getFDEnv: %v", err)
	}
	if fd != 7 {
		t.Fatalf("getFDEnv = %d, want 7", fd)
	}
}

func TestGetFDEnvMissing(t *testing.T) {
	const name = "_KONTAINER_TEST_FD_MISSING"
	_ = os.Unsetenv(name)
	if _, err := getFDEnv(name); err == nil {
		t.Fatal("expected error for unset env var, got nil")
	}
}

func TestHexEnvRoundTrip(t *testing.T) {
	const name = "_KONTAINER_TEST_FLAGS"
	kv := setHexEnv(name, 0x2000000)
	if kv != name+"=2000000" {
		t.Fatalf("setHexEnv = %q, want %q", kv, name+"=2000000")
	}

	t.Setenv(name, "2000000")
	v, err := getHexEnv(name)
	if err != nil {
		t.Fatalf("getHexEnv: %v", err)
	}
	if v != 0x2000000 {
		t.Fatalf("getHexEnv = %#x, want %#x", v, 0x2000000)
	}
}

func TestGetHexEnvUnsetIsZero(t *testing.T) {
	const name = "_KONTAINER_TEST_FLAGS_UNSET"
	_ = os.Unsetenv(name)
	v, err := getHexEnv(name)
	if err != nil {
		t.Fatalf("getHexEnv: %v", err)
	}
	if v != 0 {
		t.Fatalf("getHexEnv = %d, want 0", v)
	}
}
