// Package configs holds the internal, already-validated configuration that
// flows from the spec loader into the bootstrap pipeline and the init
// finalizer. It is constructed once per create and never mutated afterwards.
package configs

import "github.com/opencontainers/runtime-spec/specs-go"

// IDMap is a single line of a uid_map/gid_map file.
type IDMap struct {
	ContainerID int64 `json:"container_id"`
	HostID      int64 `json:"host_id"`
	Size        int64 `json:"size"`
}

// Rlimit mirrors a POSIXRlimit after its Type string has been resolved to
// the corresponding RLIMIT_* constant.
type Rlimit struct {
	Type int    `json:"type"`
	Hard uint64 `json:"hard"`
	Soft uint64 `json:"soft"`
}

// Capabilities is the five Linux capability sets, each a list of
// CAP_-prefixed names as used by runtime-spec.
type Capabilities struct {
	Bounding    []string `json:"bounding,omitempty"`
	Effective   []string `json:"effective,omitempty"`
	Inheritable []string `json:"inheritable,omitempty"`
	Permitted   []string `json:"permitted,omitempty"`
	Ambient     []string `json:"ambient,omitempty"`
}

// User is the target uid/gid the init finalizer setuid/setgid's to.
type User struct {
	UID            int     `json:"uid"`
	GID            int     `json:"gid"`
	AdditionalGids []uint32 `json:"additional_gids,omitempty"`
}

// Process is the container's entrypoint, per spec.md §3.
type Process struct {
	Args            []string      `json:"args"`
	Env             []string      `json:"env,omitempty"`
	Cwd             string        `json:"cwd"`
	NoNewPrivileges bool          `json:"no_new_privileges,omitempty"`
	User            User          `json:"user"`
	Capabilities    *Capabilities `json:"capabilities,omitempty"`
	Rlimits         []Rlimit      `json:"rlimits,omitempty"`
}

// NamespaceType is one of the kernel namespace kinds the bootstrap pipeline
// may unshare.
type NamespaceType string

const (
	NEWNS     NamespaceType = "mount"
	NEWUTS    NamespaceType = "uts"
	NEWIPC    NamespaceType = "ipc"
	NEWUSER   NamespaceType = "user"
	NEWPID    NamespaceType = "pid"
	NEWNET    NamespaceType = "network"
	NEWCGROUP NamespaceType = "cgroup"
)

// Namespaces is the set of namespace types requested for the container.
// Order in this slice carries no meaning; the bootstrap pipeline imposes its
// own fixed unshare order regardless of input order (spec.md §4.1 step 4).
type Namespaces []NamespaceType

func (n Namespaces) Contains(t NamespaceType) bool {
	for _, ns := range n {
		if ns == t {
			return true
		}
	}
	return false
}

// Memory is the subset of OCI memory resources this runtime applies.
type Memory struct {
	Limit       *int64 `json:"limit,omitempty"`
	Reservation *int64 `json:"reservation,omitempty"`
	Swap        *int64 `json:"swap,omitempty"`
}

// CPU is the subset of OCI cpu resources this runtime applies.
type CPU struct {
	Shares *uint64 `json:"shares,omitempty"`
	Quota  *int64  `json:"quota,omitempty"`
	Period *uint64 `json:"period,omitempty"`
}

// Resources bundles the cgroup-v2-applicable resource limits.
type Resources struct {
	Memory *Memory `json:"memory,omitempty"`
	CPU    *CPU    `json:"cpu,omitempty"`
}

// Action is the OCI seccomp action, already validated against the known set.
type Action string

const (
	ActKill        Action = "SCMP_ACT_KILL"
	ActKillThread  Action = "SCMP_ACT_KILL_THREAD"
	ActKillProcess Action = "SCMP_ACT_KILL_PROCESS"
	ActTrap        Action = "SCMP_ACT_TRAP"
	ActErrno       Action = "SCMP_ACT_ERRNO"
	ActTrace       Action = "SCMP_ACT_TRACE"
	ActAllow       Action = "SCMP_ACT_ALLOW"
	ActLog         Action = "SCMP_ACT_LOG"
	ActNotify      Action = "SCMP_ACT_NOTIFY"
)

// Operator is the OCI seccomp argument comparator.
type Operator string

const (
	OpNotEqual     Operator = "SCMP_CMP_NE"
	OpLessThan     Operator = "SCMP_CMP_LT"
	OpLessEqual    Operator = "SCMP_CMP_LE"
	OpEqualTo      Operator = "SCMP_CMP_EQ"
	OpGreaterEqual Operator = "SCMP_CMP_GE"
	OpGreaterThan  Operator = "SCMP_CMP_GT"
	OpMaskedEqual  Operator = "SCMP_CMP_MASKED_EQ"
)

// Arg is one syscall-argument comparison in a seccomp rule.
type Arg struct {
	Index    uint     `json:"index"`
	Value    uint64   `json:"value"`
	ValueTwo uint64   `json:"value_two,omitempty"`
	Op       Operator `json:"op"`
}

// Syscall is one rule of the seccomp filter.
type Syscall struct {
	Names    []string `json:"names"`
	Action   Action   `json:"action"`
	ErrnoRet *uint    `json:"errno_ret,omitempty"`
	Args     []*Arg   `json:"args,omitempty"`
}

// Seccomp is the filter description handed to the seccomp compiler.
type Seccomp struct {
	DefaultAction Action     `json:"default_action"`
	Architectures []string   `json:"architectures,omitempty"`
	Syscalls      []*Syscall `json:"syscalls,omitempty"`
	ListenerPath  string     `json:"listener_path,omitempty"`
}

// Config is the fully resolved, internal configuration for one container.
// It is built once by specconv.Convert and passed by pointer through the
// pipeline; nothing downstream mutates it.
type Config struct {
	Rootfs          string        `json:"rootfs"`
	Readonly        bool          `json:"readonly,omitempty"`
	Hostname        string        `json:"hostname,omitempty"`
	Namespaces      Namespaces    `json:"namespaces"`
	UIDMappings     []IDMap       `json:"uid_mappings,omitempty"`
	GIDMappings     []IDMap       `json:"gid_mappings,omitempty"`
	Resources       *Resources    `json:"resources,omitempty"`
	CgroupsPath     string        `json:"cgroups_path,omitempty"`
	Seccomp         *Seccomp      `json:"seccomp,omitempty"`
	Process         Process       `json:"process"`
	OCIVersion      string        `json:"oci_version"`
}

// HasNamespace is a convenience accessor used throughout the bootstrap and
// init packages.
func (c *Config) HasNamespace(t NamespaceType) bool {
	return c.Namespaces.Contains(t)
}

// Spec is a type alias kept for packages that need the raw OCI document
// without importing specs-go directly everywhere.
type Spec = specs.Spec
