package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/PisiLinuxNew/mudur/internal/mudur"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: mudur sysinit|boot|default|single|reboot|shutdown")
	os.Exit(1)
}

func main() {
	if len(os.Args) != 2 {
		usage()
	}
	runlevel, ok := mudur.ParseRunlevel(os.Args[1])
	if !ok {
		usage()
	}

	// mudur must survive console interrupts, init is the only thing
	// allowed to end it
	signal.Ignore(syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTSTP)

	syscall.Umask(022)
	os.Setenv("PATH", "/bin:/sbin:/usr/bin:/usr/sbin:"+os.Getenv("PATH"))

	m := mudur.New(runlevel)

	if m.Config().Profile {
		if f, err := os.Create(fmt.Sprintf("/dev/.mudur-%s.prof", runlevel)); err == nil {
			pprof.StartCPUProfile(f)
			defer func() {
				pprof.StopCPUProfile()
				f.Close()
			}()
		}
	}

	defer m.HandlePanic()
	m.Run()
	m.FlushLog()
}
