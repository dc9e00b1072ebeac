package mudur

// Splash drives the Plymouth boot splash through its command line
// client. Every call degrades to a no-op when the daemon is not
// running, so stage procedures never need to care.
type Splash struct {
	run    Runner
	client string
	daemon string

	available bool
	running   bool
}

const (
	plymouthClient = "/bin/plymouth"
	plymouthDaemon = "/sbin/plymouthd"
)

func newSplash(cfg *Config, run Runner) *Splash {
	s := &Splash{
		run:    run,
		client: plymouthClient,
		daemon: plymouthDaemon,
	}
	s.available = !cfg.LXCGuest && exists(s.client)
	s.running = s.available && run.RunQuiet(s.client, "--ping") == 0
	return s
}

func (s *Splash) send(args ...string) {
	if s.running {
		s.run.RunQuiet(s.client, args...)
	}
}

// StartDaemon starts plymouthd for the shutdown path.
func (s *Splash) StartDaemon() {
	if s.available {
		s.running = s.run.RunQuiet(s.daemon, "--mode=shutdown") == 0
	}
}

// ShowSplash shows the splash screen.
func (s *Splash) ShowSplash() { s.send("show-splash") }

// HideSplash hides the splash screen, used before interactive fsck
// output.
func (s *Splash) HideSplash() { s.send("hide-splash") }

// ReportError tells the splash to visually flag an error.
func (s *Splash) ReportError() { s.send("report-error") }

// Update reports a milestone.
func (s *Splash) Update(milestone string) {
	s.send("update", "--status="+milestone)
}

// RootfsIsNowRW notifies that the root filesystem became writable.
func (s *Splash) RootfsIsNowRW() {
	s.send("update-root-fs", "--read-write")
}

// Quit stops the daemon, optionally retaining the drawn splash.
func (s *Splash) Quit(retainSplash bool) {
	if retainSplash {
		s.send("quit", "--retain-splash")
		return
	}
	s.send("quit")
}
