package mudur

import "os"

const (
	hwclockBin  = "/sbin/hwclock"
	adjTimeFile = "/etc/adjtime"
)

// clockOptions derives the hwclock timezone flag from config. UTC is
// the default, anything else means the hardware clock runs on local
// time.
func (m *Mudur) clockOptions() string {
	if m.cfg.Clock != "UTC" {
		return "--localtime"
	}
	return "--utc"
}

// setClock sets the system time from the hardware clock, optionally
// correcting systematic drift first. hwclock complaints are logged but
// never stop the boot.
func (m *Mudur) setClock() Outcome {
	m.ui.Info("Setting system clock to hardware clock")

	options := m.clockOptions()

	if m.cfg.ClockAdjust {
		adj := "--adjust"
		if !touch(adjTimeFile) {
			// read-only filesystem, adjust from scratch
			adj = "--noadjfile"
		} else if fi, err := os.Stat(adjTimeFile); err == nil && fi.Size() == 0 {
			writeToFile(adjTimeFile, "0.0 0 0.0\n")
		}
		if _, stderr, _ := m.run.Capture(hwclockBin, adj, options); stderr != "" {
			m.ui.Error("Failed to adjust systematic drift of the hardware clock")
		}
	}

	if _, stderr, _ := m.run.Capture(hwclockBin, "--hctosys", options); stderr != "" {
		m.ui.Error("Failed to set system clock to hardware clock")
	}
	return OutcomeCompleted
}

// saveClock writes the system time back to the hardware clock for the
// next boot.
func (m *Mudur) saveClock() Outcome {
	if m.cfg.LXCGuest || m.cfg.Live {
		return OutcomeCompleted
	}

	m.ui.Info("Syncing system clock to hardware clock")
	if _, stderr, _ := m.run.Capture(hwclockBin, "--systohc", m.clockOptions()); stderr != "" {
		m.ui.Error("Failed to synchronize clocks")
	}
	return OutcomeCompleted
}
