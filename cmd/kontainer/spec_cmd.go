package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/urfave/cli"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ternbusty/kontainer-runtime/kerror"
)

// specCommand writes a minimal config.json skeleton into the bundle
// directory, the way runc's own "spec" subcommand seeds a new bundle.
var specCommand = cli.Command{
	Name:  "spec",
	Usage: "create a minimal config.json in the current directory",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "bundle, b", Value: ".", Usage: "path to the bundle to write config.json into"},
	},
	Action: func(ctx *cli.Context) error {
		path := filepath.Join(ctx.String("bundle"), "config.json")
		if _, err := os.Stat(path); err == nil {
			return kerror.New(kerror.User, "spec", os.ErrExist)
		}

		spec := defaultSpec()
		b, err := json.MarshalIndent(spec, "", "\t")
		if err != nil {
			return kerror.New(kerror.Configuration, "marshal default spec", err)
		}
		return os.WriteFile(path, b, 0o644)
	},
}

func defaultSpec() *specs.Spec {
	return &specs.Spec{
		Version: "1.0.2",
		Root: &specs.Root{
			Path:     "rootfs",
			Readonly: true,
		},
		Process: &specs.Process{
			Terminal: false,
			User:     specs.User{UID: 0, GID: 0},
			Args:     []string{"sh"},
			Env:      []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"},
			Cwd:      "/",
			Capabilities: &specs.LinuxCapabilities{
				Bounding:    []string{"CAP_AUDIT_WRITE", "CAP_KILL", "CAP_NET_BIND_SERVICE"},
				Permitted:   []string{"CAP_AUDIT_WRITE", "CAP_KILL", "CAP_NET_BIND_SERVICE"},
				Inheritable: []string{"CAP_AUDIT_WRITE", "CAP_KILL", "CAP_NET_BIND_SERVICE"},
				Effective:   []string{"CAP_AUDIT_WRITE", "CAP_KILL", "CAP_NET_BIND_SERVICE"},
			},
			Rlimits: []specs.POSIXRlimit{
				{Type: "RLIMIT_NOFILE", Hard: 1024, Soft: 1024},
			},
		},
		Hostname: "kontainer",
		Linux: &specs.Linux{
			Namespaces: []specs.LinuxNamespace{
				{Type: specs.PIDNamespace},
				{Type: specs.NetworkNamespace},
				{Type: specs.IPCNamespace},
				{Type: specs.UTSNamespace},
				{Type: specs.MountNamespace},
			},
		},
	}
}
