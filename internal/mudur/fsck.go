package mudur

import (
	"fmt"
	"os"
	"time"
)

const (
	fsckBin   = "/sbin/fsck"
	rebootBin = "/sbin/reboot"
)

// fsck exit codes, from fsck(8). The meaning of 2 and 3 depends on the
// call site: after checking the root filesystem they demand a reboot,
// after checking everything else (root excluded via -R) they only mean
// errors were corrected. Keep both interpretations, do not unify them.
const (
	fsckClean         = 0
	fsckCorrectedLow  = 2
	fsckCorrectedHigh = 3
)

// checkRootFilesystem runs fsck on / when forced or when fstab's
// passno asks for it. Never returns OutcomeCompleted after a repair
// that requires a reboot.
func (m *Mudur) checkRootFilesystem() Outcome {
	if m.cfg.Live {
		return OutcomeCompleted
	}

	entry := m.fstabEntry("/")
	if entry == nil {
		m.ui.Warn("/etc/fstab doesn't contain an entry for the root filesystem")
		return OutcomeCompleted
	}

	if !m.cfg.ForceFsck && entry.passno == 0 {
		m.ui.Info("Skipping root filesystem check (fstab's passno == 0)")
		return OutcomeCompleted
	}

	// fsck needs the filesystem read-only; remount without touching
	// mtab, root is not writable yet
	m.ui.Info("Remounting root filesystem read-only")
	m.run.RunQuiet(mountBin, "-n", "-o", "remount,ro", "/")

	var ret int
	if m.cfg.ForceFsck {
		m.splash.HideSplash()
		m.ui.Info("Checking root filesystem (full check forced)")
		// -y repairs without operator intervention, -f checks even a
		// clean filesystem. /forcefsck stays around for the
		// all-filesystems pass, which removes it.
		ret = m.run.RunFull(fsckBin, "-C", "-y", "-f", "/")
	} else {
		m.ui.Info("Checking root filesystem")
		ret = m.run.RunFull(fsckBin, "-C", "-T", "-a", "/")
	}

	switch {
	case ret == fsckClean:
		return OutcomeCompleted
	case ret == fsckCorrectedLow || ret == fsckCorrectedHigh:
		return m.rebootAfterRepair()
	default:
		m.ui.Error("Filesystem could not be repaired")
		return OutcomeRescue
	}
}

// rebootAfterRepair signals the operator audibly, waits, then forces a
// reboot. The repaired root must not be used without one.
func (m *Mudur) rebootAfterRepair() Outcome {
	m.splash.HideSplash()
	m.ui.Warn("Filesystem repaired, but reboot needed!")
	for i := 0; i < 4; i++ {
		fmt.Fprint(m.ui.out, "\a\n")
		m.sleep(time.Second)
	}
	m.ui.Warn("Rebooting in 10 seconds...")
	m.sleep(10 * time.Second)
	m.ui.Warn("Rebooting...")
	m.run.Run(rebootBin, "-f")
	return OutcomeRebooted
}

// checkFilesystems fscks everything except root. Exit codes 2 and 3
// only mean errors were corrected here; boot continues.
func (m *Mudur) checkFilesystems() Outcome {
	if m.cfg.Live {
		return OutcomeCompleted
	}

	m.ui.Info("Checking all filesystems")

	var ret int
	if m.cfg.ForceFsck {
		m.splash.HideSplash()
		m.ui.Info("A full fsck has been forced")
		// -C completion bars, -R skip root, -A all of fstab,
		// -a auto-repair, -f force even when clean
		ret = m.run.RunFull(fsckBin, "-C", "-R", "-A", "-a", "-f")

		if exists(forceFsckFile) {
			os.Remove(forceFsckFile)
		}
	} else {
		ret = m.run.RunFull(fsckBin, "-C", "-T", "-R", "-A", "-a")
	}

	switch {
	case ret == fsckClean:
		return OutcomeCompleted
	case ret >= fsckCorrectedLow && ret <= fsckCorrectedHigh:
		m.ui.Warn("Filesystem errors corrected")
		return OutcomeCompleted
	default:
		m.ui.Error("Fsck could not correct all errors, manual repair needed")
		return OutcomeRescue
	}
}
