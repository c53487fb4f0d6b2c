package state

import (
	"os"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	want := &ContainerState{
		OCIVersion: "1.0.2",
		ID:         "c1",
		Status:     StatusCreated,
		Pid:        os.Getpid(),
		Bundle:     "/bundles/c1",
		Created:    time.Now().UTC().Truncate(time.Second),
	}
	cfg := &KontainerConfig{CgroupPath: "/sys/fs/cgroup/kontainer-1"}

	if err := Save(root, want, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(root, "c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != want.ID || got.Bundle != want.Bundle || got.OCIVersion != want.OCIVersion {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if !got.Created.Equal(want.Created) {
		t.Fatalf("created mismatch: got %v, want %v", got.Created, want.Created)
	}

	gotCfg, err := LoadConfig(root, "c1")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if gotCfg.CgroupPath != cfg.CgroupPath {
		t.Fatalf("cgroup path mismatch: got %q, want %q", gotCfg.CgroupPath, cfg.CgroupPath)
	}
}

func TestLoadMissingReturnsError(t *testing.T) {
	root := t.TempDir()
	if _, err := Load(root, "nope"); err == nil {
		t.Fatal("expected error loading nonexistent container state")
	}
}

func TestLoadConfigMissingToleratesAbsence(t *testing.T) {
	root := t.TempDir()
	cfg, err := LoadConfig(root, "nope")
	if err != nil {
		t.Fatalf("LoadConfig on missing file should not error: %v", err)
	}
	if cfg.CgroupPath != "" {
		t.Fatalf("expected zero-value config, got %+v", cfg)
	}
}

func TestRefreshStoppedWhenPidGone(t *testing.T) {
	root := t.TempDir()
	st := &ContainerState{ID: "c2", Status: StatusRunning, Pid: 999999, Bundle: "/b", Created: time.Now()}
	if err := Save(root, st, &KontainerConfig{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(root, "c2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != StatusStopped {
		t.Fatalf("expected stopped status for dead pid, got %q", got.Status)
	}
}

func TestRemoveDeletesStateDir(t *testing.T) {
	root := t.TempDir()
	st := &ContainerState{ID: "c3", Status: StatusCreated, Pid: os.Getpid(), Bundle: "/b", Created: time.Now()}
	if err := Save(root, st, &KontainerConfig{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Remove(root, "c3"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := Load(root, "c3"); err == nil {
		t.Fatal("expected error loading removed container state")
	}
}
