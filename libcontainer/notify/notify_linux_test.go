package notify

import (
	"os"
	"testing"
	"time"
)

func TestListenAcceptStartRoundTrip(t *testing.T) {
	id := "test-roundtrip"
	defer Remove(id)

	l, err := Listen(id)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- Accept(l) }()

	// give Accept a moment to start blocking before Start dials in
	time.Sleep(10 * time.Millisecond)
	if err := Start(id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return in time")
	}
}

func TestRemoveToleratesMissing(t *testing.T) {
	if err := Remove("no-such-container"); err != nil {
		t.Fatalf("Remove on missing socket should be nil, got %v", err)
	}
}

func TestPathIsUnderTmp(t *testing.T) {
	p := Path("abc")
	if p != "/tmp/kontainer-abc.sock" {
		t.Fatalf("Path = %q, want /tmp/kontainer-abc.sock", p)
	}
	if _, err := os.Stat("/tmp"); err != nil {
		t.Skip("/tmp not available in this environment")
	}
}
