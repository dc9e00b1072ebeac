package mudur

import (
	"io"
	"strings"
	"time"
)

// call is one recorded command invocation.
type call struct {
	name string
	args []string
}

func (c call) String() string {
	return strings.Join(append([]string{c.name}, c.args...), " ")
}

// fakeRunner records every invocation and answers with configured exit
// statuses, keyed by binary path.
type fakeRunner struct {
	calls  []call
	status map[string]int
	stdout map[string]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		status: make(map[string]int),
		stdout: make(map[string]string),
	}
}

func (r *fakeRunner) record(name string, args []string) int {
	r.calls = append(r.calls, call{name: name, args: args})
	return r.status[name]
}

func (r *fakeRunner) Run(name string, args ...string) int {
	return r.record(name, args)
}

func (r *fakeRunner) RunFull(name string, args ...string) int {
	return r.record(name, args)
}

func (r *fakeRunner) RunQuiet(name string, args ...string) int {
	return r.record(name, args)
}

func (r *fakeRunner) Capture(name string, args ...string) (string, string, int) {
	status := r.record(name, args)
	return r.stdout[name], "", status
}

func (r *fakeRunner) Detach(stdout string, name string, args ...string) (int, error) {
	r.record(name, args)
	return 1234, nil
}

// ran counts the invocations of one binary.
func (r *fakeRunner) ran(name string) int {
	n := 0
	for _, c := range r.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

// newTestMudur wires a Mudur around the fake runner with all side
// effect seams stubbed out.
func newTestMudur(run Runner) *Mudur {
	cfg := defaultConfig()
	log := NewLogger(true)
	splash := &Splash{run: run}
	m := &Mudur{
		cfg:      cfg,
		log:      log,
		ui:       newUI(cfg, log, splash, io.Discard),
		splash:   splash,
		run:      run,
		sleep:    func(time.Duration) {},
		killAll:  func() {},
		exit:     func(int) {},
		runlevel: RunlevelSysinit,
	}
	return m
}

// setFstab injects a parsed fstab so tests do not touch /etc/fstab.
func (m *Mudur) setFstab(entries []mountEntry) {
	m.fstab = entries
	m.fstabLoaded = true
}
