package mudur

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	procMountsFile = "/proc/mounts"
	fstabFile      = "/etc/fstab"
	mtabFile       = "/etc/mtab"

	mountBin  = "/bin/mount"
	umountBin = "/bin/umount"
)

// remote filesystem types that need the network up before mounting
var remoteFsTypes = map[string]struct{}{
	"nfs":   {},
	"nfs4":  {},
	"cifs":  {},
	"ncpfs": {},
}

// mountEntry is one line of the live mount table or of fstab.
type mountEntry struct {
	device     string
	mountpoint string
	fstype     string
	options    []string
	dump       int
	passno     int
}

func parseMountEntry(line string) (mountEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || strings.HasPrefix(fields[0], "#") {
		return mountEntry{}, false
	}

	e := mountEntry{
		device:     fields[0],
		mountpoint: fields[1],
		fstype:     fields[2],
		options:    strings.Split(fields[3], ","),
	}
	if len(fields) > 4 {
		e.dump, _ = strconv.Atoi(fields[4])
	}
	if len(fields) > 5 {
		e.passno, _ = strconv.Atoi(fields[5])
	}
	return e, true
}

func parseMountTable(r io.Reader) []mountEntry {
	var entries []mountEntry
	s := bufio.NewScanner(r)
	for s.Scan() {
		if e, ok := parseMountEntry(s.Text()); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// readMounts parses the live mount table. It is read fresh on every
// call: mount state changes under us between stages, the result must
// never be cached across a mutating mount or umount.
func readMounts() ([]mountEntry, error) {
	f, err := os.Open(procMountsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMountTable(f), nil
}

// fstabEntries parses /etc/fstab once per invocation. fstab cannot
// change during a boot transition, so caching is safe here.
func (m *Mudur) fstabEntries() []mountEntry {
	if !m.fstabLoaded {
		if f, err := os.Open(fstabFile); err == nil {
			m.fstab = parseMountTable(f)
			f.Close()
		}
		m.fstabLoaded = true
	}
	return m.fstab
}

// fstabEntry returns the fstab entry for the given mountpoint, nil
// when absent.
func (m *Mudur) fstabEntry(mountpoint string) *mountEntry {
	for i, e := range m.fstabEntries() {
		if e.mountpoint == mountpoint {
			return &m.fstab[i]
		}
	}
	return nil
}

func containsRemoteMounts(entries []mountEntry) bool {
	for _, e := range entries {
		if _, ok := remoteFsTypes[e.fstype]; ok {
			return true
		}
	}
	return false
}

// hasRemoteMounts reports whether fstab declares any network
// filesystem.
func (m *Mudur) hasRemoteMounts() bool {
	return containsRemoteMounts(m.fstabEntries())
}

// mountLocalFilesystems mounts everything in fstab except the pseudo
// and network types.
func (m *Mudur) mountLocalFilesystems() Outcome {
	m.ui.Info("Mounting local filesystems")
	m.run.Run(mountBin, "-at", "noproc,nocifs,nonfs,nonfs4,noncpfs")
	return OutcomeCompleted
}

// mountRemoteFilesystems starts the network filesystem service when
// fstab declares remote mounts.
func (m *Mudur) mountRemoteFilesystems() {
	if m.hasRemoteMounts() {
		m.ui.Info("Mounting remote filesystems")
		m.manageService("netfs", "start")
	}
}

// updateMtabForRoot replays the root mount into mtab, clearing a stale
// lock file first if one was left behind.
func (m *Mudur) updateMtabForRoot() bool {
	const mountFailedLock = 16

	if exists(mtabFile + "~") {
		m.ui.Warn("Removing stale lock file /etc/mtab~")
		if err := os.Remove(mtabFile + "~"); err != nil {
			m.ui.Warn("Failed removing stale lock file /etc/mtab~")
		}
	}

	return m.run.RunQuiet(mountBin, "-f", "/") != mountFailedLock
}

// mountRootFilesystem remounts root read/write and resynchronizes
// mtab. A root that cannot be made writable is unrecoverable: nothing
// after this stage can run, so it escalates to the rescue shell.
func (m *Mudur) mountRootFilesystem() Outcome {
	m.ui.Info("Remounting root filesystem read/write")

	// remount without writing to mtab (-n), it may still be read-only
	if m.run.RunQuiet(mountBin, "-n", "-o", "remount,rw", "/") != 0 {
		m.ui.Error("Root filesystem could not be mounted read/write\n" +
			"   You can either login below and manually check your filesytem(s) OR\n" +
			"   restart your system, press F3 and select 'FS check' from boot menu\n")
		return OutcomeRescue
	}

	// mtab was not updated while root was read-only, rebuild it
	if err := writeToFile(mtabFile, ""); err != nil {
		m.ui.Warn("Couldn't synchronize /etc/mtab from /proc/mounts")
	}
	m.updateMtabForRoot()

	entries, err := readMounts()
	if err == nil {
		for _, e := range entries {
			if m.fstabEntry(e.mountpoint) != nil {
				m.run.Run(mountBin, "-f", "-o", "remount", e.mountpoint)
			}
		}
	}

	m.splash.RootfsIsNowRW()
	return OutcomeCompleted
}
