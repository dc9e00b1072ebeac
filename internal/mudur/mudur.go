// Package mudur implements the Pisi Linux boot and shutdown
// orchestrator. One privileged process is spawned by init for every
// runlevel transition and walks an ordered list of stage procedures,
// each a thin wrapper around an external system tool.
package mudur

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"
)

const suloginBin = "/sbin/sulogin"

// Runlevel names the boot or shutdown phase mudur was invoked for.
type Runlevel string

const (
	RunlevelSysinit  Runlevel = "sysinit"
	RunlevelBoot     Runlevel = "boot"
	RunlevelDefault  Runlevel = "default"
	RunlevelSingle   Runlevel = "single"
	RunlevelReboot   Runlevel = "reboot"
	RunlevelShutdown Runlevel = "shutdown"
)

// ParseRunlevel maps the single positional argument to a runlevel.
func ParseRunlevel(s string) (Runlevel, bool) {
	switch Runlevel(s) {
	case RunlevelSysinit, RunlevelBoot, RunlevelDefault,
		RunlevelSingle, RunlevelReboot, RunlevelShutdown:
		return Runlevel(s), true
	}
	return "", false
}

// Outcome is the terminal state of a stage procedure and of a whole
// sequencer run. The rescue and reboot paths of the original replace
// the process; here they are values so the sequencer can stop cleanly.
type Outcome int

const (
	// OutcomeCompleted means the stage or sequence finished and boot
	// may continue.
	OutcomeCompleted Outcome = iota
	// OutcomeRescue means the system cannot safely continue and the
	// operator gets an emergency shell.
	OutcomeRescue
	// OutcomeRebooted means a forced reboot was issued (fsck repaired
	// the root filesystem and requires one).
	OutcomeRebooted
)

// stage is one ordered unit of boot/shutdown work. guestSkip stages
// are silently skipped inside container guests; milestone stages ping
// the boot splash with their name after completing.
type stage struct {
	name      string
	guestSkip bool
	milestone bool
	fn        func(*Mudur) Outcome
}

var sysinitStages = []stage{
	{name: "greet", fn: (*Mudur).greet},
	{name: "set_console_parameters", fn: (*Mudur).setConsoleParameters},
	{name: "minimize_printk_log_level", guestSkip: true, fn: (*Mudur).minimizePrintkLogLevel},
	{name: "check_root_filesystem", guestSkip: true, milestone: true, fn: (*Mudur).checkRootFilesystem},
	{name: "mount_root_filesystem", guestSkip: true, milestone: true, fn: (*Mudur).mountRootFilesystem},
	{name: "set_hostname", fn: (*Mudur).setHostname},
	{name: "autoload_modules", guestSkip: true, milestone: true, fn: (*Mudur).autoloadModules},
	{name: "check_filesystems", guestSkip: true, milestone: true, fn: (*Mudur).checkFilesystems},
	{name: "mount_local_filesystems", guestSkip: true, milestone: true, fn: (*Mudur).mountLocalFilesystems},
	{name: "mount_tmpfs_run", guestSkip: true, milestone: true, fn: (*Mudur).mountTmpfsRun},
	{name: "enable_swap", guestSkip: true, milestone: true, fn: (*Mudur).enableSwap},
	{name: "set_disk_parameters", guestSkip: true, fn: (*Mudur).setDiskParameters},
	{name: "set_clock", guestSkip: true, milestone: true, fn: (*Mudur).setClock},
	{name: "set_system_language", fn: (*Mudur).setSystemLanguage},
	{name: "write_boot_records", fn: (*Mudur).writeBootRecords},
	{name: "create_tmpfiles", fn: (*Mudur).createTmpfiles},
	{name: "start_udev", guestSkip: true, milestone: true, fn: (*Mudur).startUdev},
	{name: "copy_udev_rules", guestSkip: true, fn: (*Mudur).copyUdevRules},
}

var bootStages = []stage{
	{name: "setup_localhost", fn: (*Mudur).setupLocalhost},
	{name: "run_sysctl", guestSkip: true, fn: (*Mudur).runSysctl},
	{name: "prune_needs_action_package_list", fn: (*Mudur).pruneNeedsActionPackageList},
	{name: "update_environment", fn: (*Mudur).updateEnvironment},
	{name: "cleanup_tmp", milestone: true, fn: (*Mudur).cleanupTmp},
	{name: "start_dbus", milestone: true, fn: (*Mudur).startDBus},
	{name: "set_unicode_mode", fn: (*Mudur).setUnicodeMode},
	{name: "trigger_failed_udev_events", guestSkip: true, fn: (*Mudur).triggerFailedUdevEvents},
	{name: "wait_for_udev_events", guestSkip: true, milestone: true, fn: (*Mudur).waitForUdevEvents},
}

var defaultStages = []stage{
	{name: "run_local_start", fn: (*Mudur).runLocalStart},
	{name: "start_services", fn: (*Mudur).startServices},
}

var singleStages = []stage{
	{name: "stop_services", milestone: true, fn: (*Mudur).stopServices},
}

// Mudur holds everything a stage procedure needs: the resolved
// configuration, the event logger, the console printer, the splash
// client and the command runner. It is built once in main and passed
// into every stage, there are no package globals.
type Mudur struct {
	cfg    *Config
	log    *Logger
	ui     *UI
	splash *Splash
	run    Runner

	runlevel Runlevel

	// fstab is parsed once per invocation, it cannot change during a
	// boot transition.
	fstab       []mountEntry
	fstabLoaded bool

	// seams for the timing- and process-level side effects so the
	// retry ladders stay testable
	sleep   func(time.Duration)
	killAll func()
	exit    func(int)
}

// New resolves the configuration and wires up the runtime objects for
// the given runlevel.
func New(runlevel Runlevel) *Mudur {
	cfg := ResolveConfig()
	log := NewLogger(cfg.Debug)
	run := newExecRunner()
	splash := newSplash(cfg, run)

	m := &Mudur{
		cfg:      cfg,
		log:      log,
		ui:       newUI(cfg, log, splash, os.Stdout),
		splash:   splash,
		run:      run,
		runlevel: runlevel,
		sleep:    time.Sleep,
		exit:     os.Exit,
	}
	m.killAll = killAllProcesses
	return m
}

// Config exposes the resolved option set, mainly for main's profiling
// switch.
func (m *Mudur) Config() *Config { return m.cfg }

// Run executes the stage list selected by the runlevel and reports how
// the sequence ended. A rescue outcome has already blocked on the
// emergency shell by the time Run returns.
func (m *Mudur) Run() Outcome {
	m.log.Log("/sbin/mudur %s", m.runlevel)

	switch m.runlevel {
	case RunlevelSysinit:
		return m.runStages(sysinitStages)
	case RunlevelBoot:
		m.splash.Update("boot_runlevel")
		return m.runStages(bootStages)
	case RunlevelDefault:
		m.splash.Update("default_runlevel")
		return m.runStages(defaultStages)
	case RunlevelSingle:
		return m.runStages(singleStages)
	case RunlevelReboot, RunlevelShutdown:
		return m.shutdownSequence()
	}
	return OutcomeCompleted
}

// runStages walks the list strictly in order. No stage runs
// concurrently with another: each one may depend on filesystem or
// process state mutated by its predecessor.
func (m *Mudur) runStages(stages []stage) Outcome {
	for _, s := range stages {
		if s.guestSkip && m.cfg.LXCGuest {
			m.log.Debug("skipping %s in container guest", s.name)
			continue
		}
		m.log.Debug("stage %s", s.name)
		out := s.fn(m)
		if out != OutcomeCompleted {
			if out == OutcomeRescue {
				m.rescueShell()
			}
			return out
		}
		if s.milestone {
			m.splash.Update(s.name)
		}
	}
	return OutcomeCompleted
}

// rescueShell hands the console to an interactive single-user login.
// It blocks until the operator exits; the automated sequence never
// resumes afterwards.
func (m *Mudur) rescueShell() {
	m.run.RunFull(suloginBin)
}

// FlushLog writes the buffered event log to disk.
func (m *Mudur) FlushLog() {
	if err := m.log.Flush(); err != nil {
		m.ui.Error("Cannot write mudur.log, read-only file system")
	}
}

// HandlePanic is deferred by main. A programming error must not crash
// the boot outright: report it with a traceback and fall back to the
// rescue shell.
func (m *Mudur) HandlePanic() {
	r := recover()
	if r == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "\nAn internal error occured. Please report to bugs.pisilinux.org with following information:\n\n")
	fmt.Fprintf(os.Stderr, "%v\n\n%s\n", r, debug.Stack())
	m.ui.Error(fmt.Sprintf("internal error: %v", r))
	m.FlushLog()
	m.rescueShell()
}
