package mudur

import (
	"os"
	"sort"
	"strings"
	"time"

	ps "github.com/mitchellh/go-ps"
	"golang.org/x/sys/unix"
)

const (
	fuserBin = "/bin/fuser"
	haltBin  = "/sbin/halt"
)

// virtual filesystem types that never get explicitly unmounted on
// shutdown, the kernel tears them down itself
var virtualFsTypes = map[string]struct{}{
	"proc":     {},
	"devpts":   {},
	"sysfs":    {},
	"devtmpfs": {},
	"squashfs": {},
	"tmpfs":    {},
	"rootfs":   {},
	"debugfs":  {},
	"cgroup":   {},
	"configfs": {},
}

// shutdownMounts filters the live mount table down to the real
// filesystems that need an explicit unmount, deepest mountpoint first
// so children always come off before their parents.
func shutdownMounts(entries []mountEntry) []mountEntry {
	var picked []mountEntry
	for _, e := range entries {
		if _, virtual := virtualFsTypes[e.fstype]; virtual {
			continue
		}
		if e.device == "none" || e.mountpoint == "/" {
			continue
		}
		picked = append(picked, e)
	}
	depth := func(p string) int { return strings.Count(p, "/") }
	sort.Slice(picked, func(i, j int) bool {
		di, dj := depth(picked[i].mountpoint), depth(picked[j].mountpoint)
		if di != dj {
			return di > dj
		}
		return picked[i].mountpoint < picked[j].mountpoint
	})
	return picked
}

// unmountFilesystems takes down every real filesystem except root. A
// busy mountpoint gets its users killed and a lazy forced unmount.
func (m *Mudur) unmountFilesystems() {
	entries, err := readMounts()
	if err != nil {
		return
	}
	for _, e := range shutdownMounts(entries) {
		m.log.Log("unmounting %s", e.mountpoint)
		if m.run.RunQuiet(umountBin, e.mountpoint) == 0 {
			continue
		}
		// kill processes still using the filesystem, then force
		m.run.RunQuiet(fuserBin, "-k", "-9", "-m", e.mountpoint)
		m.sleep(time.Second)
		m.run.RunQuiet(umountBin, "-f", "-r", e.mountpoint)
	}
}

// remountRootReadOnly tries twice to remount root read-only, then falls
// back to a lazy read-only unmount. Only when all three attempts fail
// is every remaining process killed, exactly once, before reporting
// failure.
func (m *Mudur) remountRootReadOnly(root string) bool {
	m.splash.Update("remount_ro")
	m.splash.Quit(true)

	for i := 0; i < 2; i++ {
		if m.run.RunQuiet(mountBin, "-n", "-o", "remount,ro", root) == 0 {
			return true
		}
	}
	if m.run.RunQuiet(umountBin, "-n", "-r", root) == 0 {
		return true
	}

	// last resort, no retry afterwards
	m.killAll()
	m.ui.Error("Unable to remount root filesystem read-only")
	return false
}

// rootMountpoint confirms the real root mount in the live table. The
// kernel's rootfs placeholder is skipped, umount cannot operate on it.
func rootMountpoint(entries []mountEntry) string {
	for _, e := range entries {
		if e.mountpoint == "/" && e.device != "rootfs" {
			return e.mountpoint
		}
	}
	return "/"
}

// killAllProcesses force-kills everything except init, kernel threads
// and mudur itself. Used as the last resort when root will not come off
// read-write.
func killAllProcesses() {
	procs, err := ps.Processes()
	if err != nil {
		return
	}
	self := os.Getpid()
	for _, p := range procs {
		if p.Pid() <= 2 || p.PPid() <= 2 || p.Pid() == self {
			continue
		}
		unix.Kill(p.Pid(), unix.SIGKILL)
	}
}

// stopSystem winds the machine down to the point where init can cut
// power: services and daemons stopped, clock saved, swap off,
// filesystems unmounted and root read-only.
func (m *Mudur) stopSystem() {
	m.stopServices()
	m.stopDBus()
	m.stopUdev()
	m.saveClock()
	m.disableSwap()

	// write the shutdown record while wtmp is still writable
	m.run.Run(haltBin, "-w")

	if m.cfg.LXCGuest {
		return
	}

	m.splash.Update("unmount_filesystems")
	m.ui.Info("Unmounting filesystems")
	m.unmountFilesystems()

	m.ui.Info("Remounting remaining filesystems read-only")

	// the remount below consults mtab, make it agree with the kernel
	writeToFile(mtabFile, loadFileRaw(procMountsFile))
	root := "/"
	if entries, err := readMounts(); err == nil {
		root = rootMountpoint(entries)
	}
	m.remountRootReadOnly(root)
}

// shutdownSequence is the reboot/shutdown runlevel. It never returns
// control to a continuing boot: the end state is a staged kexec jump or
// a call to reboot/halt.
func (m *Mudur) shutdownSequence() Outcome {
	m.splash.StartDaemon()
	m.splash.RootfsIsNowRW()
	m.splash.ShowSplash()

	m.FlushLog()
	m.runLocalStop()

	kexecStaged := m.loadKexecImage()

	m.stopSystem()

	if kexecStaged {
		m.kexecHalt()
	}

	if m.runlevel == RunlevelReboot {
		m.run.Run(rebootBin, "-idp")
		m.run.Run(rebootBin, "-f")
	} else {
		m.run.Run(haltBin, "-ihdp")
		m.run.Run(haltBin, "-f")
	}
	return OutcomeCompleted
}
