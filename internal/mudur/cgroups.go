package mudur

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	cgroupRoot      = "/sys/fs/cgroup"
	procCgroupsFile = "/proc/cgroups"
)

// Exit codes for the three fatal cgroup bootstrap preconditions. These
// run before a rescue shell would be meaningful, so the process exits
// directly with a distinct status per failure.
const (
	exitCgroupFstab  = 255 // fstab carries a static cgroup mount
	exitCgroupKernel = 254 // kernel built without cgroup support
	exitCgroupSysfs  = 253 // mount root directory missing
)

// controller is one kernel-reported cgroup subsystem.
type controller struct {
	name      string
	hierarchy int
	numGroups int
	enabled   bool
}

// mounter abstracts the handful of mount syscalls the bootstrap needs.
type mounter interface {
	isMountPoint(path string) bool
	mount(source, target, fstype string, flags uintptr, data string) error
	mkdirAll(path string, perm os.FileMode) error
}

type sysMounter struct{}

func (sysMounter) isMountPoint(path string) bool {
	entries, err := readMounts()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.mountpoint == path {
			return true
		}
	}
	return false
}

func (sysMounter) mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (sysMounter) mkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// bootstrapError is a hard precondition failure with its process exit
// code.
type bootstrapError struct {
	code int
	msg  string
}

func (e *bootstrapError) Error() string { return e.msg }

// cgroupfs mounts the cgroup hierarchy exactly once per sysinit pass:
// tmpfs root first, then one named mount per enabled controller.
type cgroupfs struct {
	fstabPath   string
	procCgroups string
	root        string
	mnt         mounter

	warn func(msg string)
}

func newCgroupfs(warn func(string)) *cgroupfs {
	return &cgroupfs{
		fstabPath:   fstabFile,
		procCgroups: procCgroupsFile,
		root:        cgroupRoot,
		mnt:         sysMounter{},
		warn:        warn,
	}
}

// setup walks the bootstrap state machine. Any returned error is a
// *bootstrapError and aborts the whole boot by design: cgroups are
// required infrastructure.
func (c *cgroupfs) setup() error {
	if c.fstabHasCgroup() {
		return &bootstrapError{exitCgroupFstab, "cgroupfs in fstab, exiting."}
	}
	if !exists(c.procCgroups) {
		return &bootstrapError{exitCgroupKernel, "No kernel support for cgroupfs, exiting."}
	}
	if fi, err := os.Stat(c.root); err != nil || !fi.IsDir() {
		return &bootstrapError{exitCgroupSysfs, fmt.Sprintf("%s directory not found, exiting", c.root)}
	}

	c.mountRoot()

	controllers, err := c.findControllers()
	if err != nil {
		c.warn(fmt.Sprintf("Cannot read cgroup controllers: %s", err.Error()))
		return nil
	}
	c.mountControllers(controllers)
	return nil
}

// fstabHasCgroup reports a pre-existing static cgroup mount line. We
// manage the hierarchy ourselves, such a line is a misconfiguration.
func (c *cgroupfs) fstabHasCgroup() bool {
	f, err := os.Open(c.fstabPath)
	if err != nil {
		return false
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		if e, ok := parseMountEntry(s.Text()); ok && e.fstype == "cgroup" {
			return true
		}
	}
	return false
}

// mountRoot mounts the cgroup tmpfs root unless it already is a
// mountpoint.
func (c *cgroupfs) mountRoot() {
	if c.mnt.isMountPoint(c.root) {
		return
	}
	if err := c.mnt.mount("cgroup", c.root, "tmpfs", 0, "uid=0,gid=0,mode=0755"); err != nil {
		c.warn(fmt.Sprintf("Cannot mount %s: %s", c.root, err.Error()))
	}
}

// findControllers parses the kernel's subsystem report, one controller
// per non-comment line.
func (c *cgroupfs) findControllers() ([]controller, error) {
	f, err := os.Open(c.procCgroups)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var controllers []controller
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		hierarchy, _ := strconv.Atoi(fields[1])
		numGroups, _ := strconv.Atoi(fields[2])
		enabled, _ := strconv.Atoi(fields[3])
		controllers = append(controllers, controller{
			name:      fields[0],
			hierarchy: hierarchy,
			numGroups: numGroups,
			enabled:   enabled == 1,
		})
	}
	return controllers, s.Err()
}

// mountControllers mounts every enabled controller that is not already
// mounted under the root. Disabled controllers are skipped for good.
// Returns the number of mounts performed, so an already-complete
// hierarchy yields zero.
func (c *cgroupfs) mountControllers(controllers []controller) int {
	mounted := 0
	for _, ctrl := range controllers {
		if !ctrl.enabled {
			continue
		}
		path := filepath.Join(c.root, ctrl.name)
		if c.mnt.isMountPoint(path) {
			continue
		}
		if err := c.mnt.mkdirAll(path, 0755); err != nil {
			c.warn(fmt.Sprintf("Cannot create %s: %s", path, err.Error()))
			continue
		}
		if err := c.mnt.mount("cgroup", path, "cgroup", 0, ctrl.name); err != nil {
			c.warn(fmt.Sprintf("Cannot mount cgroup %s: %s", ctrl.name, err.Error()))
			continue
		}
		mounted++
	}
	return mounted
}

// mountTmpfsRun gives /run a fresh tmpfs and bootstraps the cgroup
// hierarchy on top of it.
func (m *Mudur) mountTmpfsRun() Outcome {
	entries, err := readMounts()
	if err == nil {
		for _, e := range entries {
			if e.fstype == "tmpfs" && e.mountpoint == "/run" {
				m.ui.Info("Unmounting /run")
				m.run.Run(umountBin, "/run")
				break
			}
		}
	}
	m.run.RunFull(mountBin, "-t", "tmpfs", "-o", "nodev,nosuid,size=10%,mode=755", "tmpfs", "/run")

	if err := newCgroupfs(m.ui.Warn).setup(); err != nil {
		var be *bootstrapError
		if errors.As(err, &be) {
			m.ui.Error(be.msg)
			m.exit(be.code)
			return OutcomeCompleted // only reached with a stubbed exit
		}
	}
	return OutcomeCompleted
}
