// Package state persists ContainerState and KontainerConfig as the JSON
// files spec.md §6 describes, and refreshes status by probing /proc.
package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternbusty/kontainer-runtime/kerror"
)

// Status is one of the four lifecycle states of spec.md §3.
type Status string

const (
	StatusCreating Status = "creating"
	StatusCreated  Status = "created"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
)

// ContainerState is the persisted, OCI-shaped runtime state document.
type ContainerState struct {
	OCIVersion  string            `json:"ociVersion"`
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	Pid         int               `json:"pid,omitempty"`
	Bundle      string            `json:"bundle"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Created     time.Time         `json:"created"`
}

// KontainerConfig is the bundle-independent companion file that makes
// delete work even if the bundle directory has since been removed.
type KontainerConfig struct {
	CgroupPath string `json:"cgroup_path,omitempty"`
}

func stateDir(root, id string) string {
	return filepath.Join(root, id)
}

func statePath(root, id string) string {
	return filepath.Join(stateDir(root, id), "state.json")
}

func configPath(root, id string) string {
	return filepath.Join(stateDir(root, id), "kontainer_config.json")
}

// Save writes state.json and kontainer_config.json into <root>/<id>,
// creating the directory if needed. Both files are pretty-printed with
// default fields omitted (spec.md §6).
func Save(root string, st *ContainerState, cfg *KontainerConfig) error {
	dir := stateDir(root, st.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kerror.New(kerror.Configuration, "mkdir state dir", err)
	}
	if err := writeJSON(statePath(root, st.ID), st); err != nil {
		return err
	}
	if err := writeJSON(configPath(root, st.ID), cfg); err != nil {
		return err
	}
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return kerror.New(kerror.Configuration, "marshal "+filepath.Base(path), err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return kerror.New(kerror.Configuration, "write "+filepath.Base(path), err)
	}
	return nil
}

// Load reads state.json, refreshing its status against /proc/<pid>/stat
// before returning it (states Z, X, or a missing pid all mean stopped,
// per spec.md §3).
func Load(root, id string) (*ContainerState, error) {
	b, err := os.ReadFile(statePath(root, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kerror.New(kerror.User, "load state", fmt.Errorf("no such container %q", id))
		}
		return nil, kerror.New(kerror.Configuration, "read state.json", err)
	}
	var st ContainerState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, kerror.New(kerror.Configuration, "unmarshal state.json", err)
	}
	refresh(&st)
	return &st, nil
}

// LoadConfig reads kontainer_config.json, tolerating its absence (older
// or partially-created containers may lack it).
func LoadConfig(root, id string) (*KontainerConfig, error) {
	b, err := os.ReadFile(configPath(root, id))
	if err != nil {
		if os.IsNotExist(err) {
			return &KontainerConfig{}, nil
		}
		return nil, kerror.New(kerror.Configuration, "read kontainer_config.json", err)
	}
	var cfg KontainerConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, kerror.New(kerror.Configuration, "unmarshal kontainer_config.json", err)
	}
	return &cfg, nil
}

// UpdateStatus loads, rewrites and re-saves just the status field, used by
// "start" to flip created -> running.
func UpdateStatus(root, id string, status Status) error {
	st, err := Load(root, id)
	if err != nil {
		return err
	}
	st.Status = status
	cfg, err := LoadConfig(root, id)
	if err != nil {
		return err
	}
	return Save(root, st, cfg)
}

// Remove deletes <root>/<id> entirely.
func Remove(root, id string) error {
	return os.RemoveAll(stateDir(root, id))
}

// refresh probes /proc/<pid>/stat and downgrades status to stopped once
// the process is a zombie (Z), dead (X), or simply gone.
func refresh(st *ContainerState) {
	if st.Status != StatusCreated && st.Status != StatusRunning {
		return
	}
	if st.Pid <= 0 {
		st.Status = StatusStopped
		return
	}
	procState, alive := readProcState(st.Pid)
	if !alive {
		st.Status = StatusStopped
		return
	}
	if procState == "Z" || procState == "X" {
		st.Status = StatusStopped
	}
}

// readProcState parses field 3 of /proc/<pid>/stat (the single-letter
// process state), tolerating the parenthesized comm field containing
// spaces or closing parens.
func readProcState(pid int) (string, bool) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return "", false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	if !sc.Scan() {
		return "", false
	}
	line := sc.Text()
	i := strings.LastIndex(line, ")")
	if i < 0 || i+2 >= len(line) {
		return "", true
	}
	fields := strings.Fields(line[i+2:])
	if len(fields) == 0 {
		return "", true
	}
	return fields[0], true
}
