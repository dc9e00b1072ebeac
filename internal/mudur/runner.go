package mudur

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	reap "github.com/hashicorp/go-reap"
	"github.com/sirupsen/logrus"
)

// Runner spawns the external privileged tools every stage procedure is
// a wrapper around. All methods return the tool's exit status, -1 when
// the process could not be spawned at all.
type Runner interface {
	// Run discards stdout and keeps stderr on the console.
	Run(name string, args ...string) int
	// RunFull leaves both output streams on the console.
	RunFull(name string, args ...string) int
	// RunQuiet discards both output streams.
	RunQuiet(name string, args ...string) int
	// Capture returns stdout and stderr alongside the exit status.
	Capture(name string, args ...string) (stdout, stderr string, status int)
	// Detach starts the command in its own session without waiting for
	// it, optionally redirecting stdout to the named file. The child is
	// collected by the background reaper.
	Detach(stdout string, name string, args ...string) (pid int, err error)
}

// execRunner is the os/exec implementation. Detached children are
// never waited on; a reaper goroutine collects them, paused via the
// shared lock whenever a synchronous command is in flight so its exit
// status is not stolen.
type execRunner struct {
	reapLock sync.RWMutex
	log      *logrus.Logger
}

func newExecRunner() *execRunner {
	r := &execRunner{log: newConsoleLogger()}
	go reap.ReapChildren(nil, nil, nil, &r.reapLock)
	return r
}

func (r *execRunner) exec(stdout, stderr io.Writer, name string, args ...string) int {
	r.reapLock.RLock()
	defer r.reapLock.RUnlock()

	cmd := exec.Command(name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		r.log.Warnf("can not run %s: %s", name, err.Error())
		return -1
	}
	return 0
}

func (r *execRunner) Run(name string, args ...string) int {
	return r.exec(io.Discard, os.Stderr, name, args...)
}

func (r *execRunner) RunFull(name string, args ...string) int {
	return r.exec(os.Stdout, os.Stderr, name, args...)
}

func (r *execRunner) RunQuiet(name string, args ...string) int {
	return r.exec(io.Discard, io.Discard, name, args...)
}

func (r *execRunner) Capture(name string, args ...string) (string, string, int) {
	var stdout, stderr bytes.Buffer
	status := r.exec(&stdout, &stderr, name, args...)
	return stdout.String(), stderr.String(), status
}

func (r *execRunner) Detach(stdout string, name string, args ...string) (int, error) {
	r.reapLock.RLock()
	defer r.reapLock.RUnlock()

	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	out := stdout
	if out == "" {
		out = os.DevNull
	}
	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	cmd.Stdout = f

	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return 0, err
	}
	defer devnull.Close()
	cmd.Stderr = devnull
	cmd.Stdin = devnull

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}
