package main

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestParseSignalNumeric(t *testing.T) {
	sig, err := parseSignal("9")
	if err != nil {
		t.Fatalf("parseSignal: %v", err)
	}
	if sig != unix.SIGKILL {
		t.Fatalf("parseSignal(9) = %d, want SIGKILL", sig)
	}
}

func TestParseSignalBareName(t *testing.T) {
	sig, err := parseSignal("TERM")
	if err != nil {
		t.Fatalf("parseSignal: %v", err)
	}
	if sig != unix.SIGTERM {
		t.Fatalf("parseSignal(TERM) = %d, want SIGTERM", sig)
	}
}

func TestParseSignalSIGPrefixed(t *testing.T) {
	sig, err := parseSignal("SIGHUP")
	if err != nil {
		t.Fatalf("parseSignal: %v", err)
	}
	if sig != unix.SIGHUP {
		t.Fatalf("parseSignal(SIGHUP) = %d, want SIGHUP", sig)
	}
}

func TestParseSignalUnknown(t *testing.T) {
	if _, err := parseSignal("NOTASIGNAL"); err == nil {
		t.Fatal("expected error for unknown signal name, got nil")
	}
}
