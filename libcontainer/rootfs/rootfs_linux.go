// Package rootfs prepares the container's filesystem: mount propagation,
// the /proc, /dev, /dev/shm and /sys mounts, device-node bind mounts,
// pivot_root, and the readonly remount, in the exact order spec.md §4.2
// step 7 mandates.
package rootfs

import (
	"fmt"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/mrunalp/fileutils"
	"golang.org/x/sys/unix"

	"github.com/ternbusty/kontainer-runtime/kerror"
	"github.com/ternbusty/kontainer-runtime/libcontainer/cgroups"
)

// devNodes are the host device files bind-mounted into the container's
// tmpfs /dev, since mknod is unavailable inside a user namespace
// (spec.md §9 "Device nodes in user namespaces").
var devNodes = []string{"null", "zero", "random", "urandom"}

// Prepare runs the full mount sequence and pivots into rootfs. The caller
// gates the whole sequence on a mount namespace: without one there is
// nothing to isolate, so the caller must skip this entirely (spec.md §4.2
// step 7: "if mount namespace").
func Prepare(rootfs string, readonly bool) error {
	if err := unix.Mount("", "/", "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return kerror.New(kerror.Filesystem, "make / private-slave", err)
	}

	if err := unix.Mount(rootfs, rootfs, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return kerror.New(kerror.Filesystem, "bind-mount rootfs onto itself", err)
	}

	if err := mountProc(rootfs); err != nil {
		return err
	}
	if err := mountDev(rootfs); err != nil {
		return err
	}
	if err := mountDevShm(rootfs); err != nil {
		return err
	}
	if err := mountSysfs(rootfs); err != nil {
		return err
	}
	if err := bindCgroupfs(rootfs); err != nil {
		return err
	}

	if err := pivot(rootfs); err != nil {
		return err
	}

	if readonly {
		if err := remountRootReadonly(); err != nil {
			return err
		}
	}
	return nil
}

func mountProc(rootfs string) error {
	target, err := securejoin.SecureJoin(rootfs, "proc")
	if err != nil {
		return kerror.New(kerror.Filesystem, "resolve /proc target", err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return kerror.New(kerror.Filesystem, "mkdir /proc", err)
	}
	flags := uintptr(unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC)
	if err := unix.Mount("proc", target, "proc", flags, ""); err != nil {
		return kerror.New(kerror.Filesystem, "mount /proc", err)
	}
	return nil
}

func mountDev(rootfs string) error {
	target, err := securejoin.SecureJoin(rootfs, "dev")
	if err != nil {
		return kerror.New(kerror.Filesystem, "resolve /dev target", err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return kerror.New(kerror.Filesystem, "mkdir /dev", err)
	}
	flags := uintptr(unix.MS_NOSUID | unix.MS_NOEXEC)
	if err := unix.Mount("tmpfs", target, "tmpfs", flags, "mode=755"); err != nil {
		return kerror.New(kerror.Filesystem, "mount tmpfs /dev", err)
	}

	for _, name := range devNodes {
		if err := bindDevNode(rootfs, target, name); err != nil {
			return err
		}
	}
	return nil
}

// bindDevNode creates an empty regular file under the container's tmpfs
// /dev and bind-mounts the host's device file onto it, via mrunalp/fileutils
// for the file creation (matching the teacher's dependency on it for
// exactly this purpose).
func bindDevNode(rootfs, devDir, name string) error {
	dst := filepath.Join(devDir, name)
	if err := fileutils.CreateFile(dst, 0o666); err != nil && !os.IsExist(err) {
		return kerror.New(kerror.Filesystem, fmt.Sprintf("create placeholder for /dev/%s", name), err)
	}
	src := filepath.Join("/dev", name)
	if err := unix.Mount(src, dst, "", unix.MS_BIND, ""); err != nil {
		return kerror.New(kerror.Filesystem, fmt.Sprintf("bind-mount /dev/%s", name), err)
	}
	return nil
}

func mountDevShm(rootfs string) error {
	target, err := securejoin.SecureJoin(rootfs, "dev/shm")
	if err != nil {
		return kerror.New(kerror.Filesystem, "resolve /dev/shm target", err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return kerror.New(kerror.Filesystem, "mkdir /dev/shm", err)
	}
	flags := uintptr(unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV)
	if err := unix.Mount("shm", target, "tmpfs", flags, "mode=1777,size=65536k"); err != nil {
		return kerror.New(kerror.Filesystem, "mount /dev/shm", err)
	}
	return nil
}

func mountSysfs(rootfs string) error {
	target, err := securejoin.SecureJoin(rootfs, "sys")
	if err != nil {
		return kerror.New(kerror.Filesystem, "resolve /sys target", err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return kerror.New(kerror.Filesystem, "mkdir /sys", err)
	}
	flags := uintptr(unix.MS_RDONLY | unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC)
	if err := unix.Mount("sysfs", target, "sysfs", flags, ""); err != nil {
		return kerror.New(kerror.Filesystem, "mount /sys", err)
	}
	return nil
}

// bindCgroupfs bind-mounts the host's cgroup v2 hierarchy, then remounts
// read-only, if the host runs cgroup v2 (spec.md §4.2 step 7).
func bindCgroupfs(rootfs string) error {
	const hostCgroup = "/sys/fs/cgroup"
	if !cgroups.IsUnifiedMode() {
		return nil
	}
	target, err := securejoin.SecureJoin(rootfs, "sys/fs/cgroup")
	if err != nil {
		return kerror.New(kerror.Filesystem, "resolve /sys/fs/cgroup target", err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return kerror.New(kerror.Filesystem, "mkdir /sys/fs/cgroup", err)
	}
	if err := unix.Mount(hostCgroup, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return kerror.New(kerror.Filesystem, "bind-mount /sys/fs/cgroup", err)
	}
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
	if err := unix.Mount("", target, "", flags, ""); err != nil {
		return kerror.New(kerror.Filesystem, "remount /sys/fs/cgroup readonly", err)
	}
	return nil
}

// pivot performs pivot_root(newroot, newroot), detaches the old root, and
// chdir's into the new one, per spec.md §4.2 step 7.
func pivot(rootfs string) error {
	rootFd, err := unix.Open(rootfs, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return kerror.New(kerror.Filesystem, "open new root", err)
	}
	defer unix.Close(rootFd)

	if err := unix.PivotRoot(rootfs, rootfs); err != nil {
		return kerror.New(kerror.Filesystem, "pivot_root", err)
	}

	if err := unix.Mount("", "/", "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return kerror.New(kerror.Filesystem, "make old root private-slave", err)
	}
	if err := unix.Unmount("/", unix.MNT_DETACH); err != nil {
		return kerror.New(kerror.Filesystem, "detach old root", err)
	}

	if err := unix.Fchdir(rootFd); err != nil {
		return kerror.New(kerror.Filesystem, "fchdir new root", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return kerror.New(kerror.Filesystem, "chdir /", err)
	}
	return nil
}

// remountRootReadonly retries with the existing mount flags OR'd in if the
// first remount attempt fails, per spec.md §4.2 step 7.
func remountRootReadonly() error {
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
	err := unix.Mount("", "/", "", flags, "")
	if err == nil {
		return nil
	}

	var st unix.Statfs_t
	if statErr := unix.Statfs("/", &st); statErr == nil {
		flags |= mountFlagsFromStatfs(st)
		if retryErr := unix.Mount("", "/", "", flags, ""); retryErr == nil {
			return nil
		}
	}
	return kerror.New(kerror.Filesystem, "remount / readonly", err)
}

func mountFlagsFromStatfs(st unix.Statfs_t) uintptr {
	var flags uintptr
	if st.Flags&unix.ST_NOSUID != 0 {
		flags |= unix.MS_NOSUID
	}
	if st.Flags&unix.ST_NODEV != 0 {
		flags |= unix.MS_NODEV
	}
	if st.Flags&unix.ST_NOEXEC != 0 {
		flags |= unix.MS_NOEXEC
	}
	return flags
}
