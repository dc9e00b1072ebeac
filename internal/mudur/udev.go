package mudur

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	udevdBin   = "/sbin/udevd"
	udevadmBin = "/sbin/udevadm"

	udevQueueDir      = "/dev/.udev/queue"
	udevFailedDir     = "/dev/.udev/failed"
	udevMonitorLog    = "/dev/.udevmonitor.log"
	udevMonitorLogDst = "/var/log/udevmonitor.log"
	udevTmpRulesGlob  = "/dev/.udev/tmp-rules--*"
	udevRulesDir      = "/etc/udev/rules.d"
)

// startUdev starts the device-event daemon and populates /dev by
// triggering uevents for everything the kernel already knows about. A
// monitor child logs what the triggers do and is terminated once
// triggering is complete; it never synchronizes with the boot
// sequence.
func (m *Mudur) startUdev() Outcome {
	m.ui.Info("Starting udev")

	m.run.Run(startStopDaemonBin, "--start", "--quiet",
		"--exec", udevdBin, "--", "--daemon")

	os.MkdirAll(udevQueueDir, 0755)

	monitorPid, err := m.run.Detach(udevMonitorLog, udevadmBin, "monitor", "--env")
	if err != nil {
		m.log.Debug("can not start udev monitor: %s", err.Error())
	}

	m.ui.Info("Populating /dev")
	m.run.Run(udevadmBin, "trigger", "--type=subsystems", "--action=add")
	m.run.Run(udevadmBin, "trigger", "--type=devices", "--action=add")
	m.run.Run(udevadmBin, "trigger", "--type=devices", "--action=change")

	if err == nil {
		unix.Kill(monitorPid, unix.SIGTERM)
	}
	return OutcomeCompleted
}

// stopUdev stops the device-event daemon.
func (m *Mudur) stopUdev() Outcome {
	if m.cfg.LXCGuest {
		return OutcomeCompleted
	}
	m.run.Run(startStopDaemonBin, "--stop", "--exec", udevdBin)
	return OutcomeCompleted
}

// waitForUdevEvents blocks until the event queue drains.
func (m *Mudur) waitForUdevEvents() Outcome {
	m.run.Run(udevadmBin, "settle", "--timeout=60")
	return OutcomeCompleted
}

// triggerFailedUdevEvents retries only events that failed in a
// previous run.
func (m *Mudur) triggerFailedUdevEvents() Outcome {
	if exists(udevFailedDir) {
		m.run.Run(udevadmBin, "trigger", "--type=failed", "--action=add")
	}
	return OutcomeCompleted
}

// copyUdevRules moves persistent rules staged under /dev into the real
// rules directory. Failures here only cost the persistence, not the
// boot.
func (m *Mudur) copyUdevRules() Outcome {
	if exists(udevMonitorLog) {
		// best effort, the log is diagnostic only
		moveFile(udevMonitorLog, udevMonitorLogDst)
	}

	rules, err := filepath.Glob(udevTmpRulesGlob)
	if err != nil {
		return OutcomeCompleted
	}
	for _, rule := range rules {
		name := strings.SplitN(filepath.Base(rule), "tmp-rules--", 2)
		if len(name) != 2 {
			continue
		}
		dst := filepath.Join(udevRulesDir, name[1])
		if err := moveFile(rule, dst); err != nil {
			m.ui.Warn("Can't move persistent udev rules from /dev/.udev")
		}
	}
	return OutcomeCompleted
}
