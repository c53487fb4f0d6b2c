package capabilities

import "testing"

func TestResolveKnownCapability(t *testing.T) {
	caps, err := resolve([]string{"CAP_KILL", "cap_net_bind_service"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(caps) != 2 {
		t.Fatalf("resolve returned %d caps, want 2", len(caps))
	}
}

func TestResolveUnknownCapability(t *testing.T) {
	if _, err := resolve([]string{"CAP_NOT_A_REAL_CAPABILITY"}); err == nil {
		t.Fatal("expected error for unknown capability name, got nil")
	}
}

func TestResolveEmpty(t *testing.T) {
	caps, err := resolve(nil)
	if err != nil {
		t.Fatalf("resolve(nil): %v", err)
	}
	if len(caps) != 0 {
		t.Fatalf("resolve(nil) returned %d caps, want 0", len(caps))
	}
}
