package mudur

import (
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	comarDest   = "tr.org.pardus.comar"
	comarPath   = "/"
	comarMethod = comarDest + ".listModelApplications"

	serviceBin             = "/bin/service"
	enabledServicesDir     = "/etc/mudur/services/enabled"
	conditionalServicesDir = "/etc/mudur/services/conditional"

	syslogSocket = "/dev/log"

	startStopDaemonBin = "/sbin/start-stop-daemon"
	dbusDaemonBin      = "/usr/bin/dbus-daemon"
	dbusUUIDGenBin     = "/usr/bin/dbus-uuidgen"
	dbusMachineID      = "/var/lib/dbus/machine-id"
	dbusPidFile        = "/run/dbus/pid"
	dbusSocket         = "/run/dbus/system_bus_socket"
)

// waitBus polls a unix socket until it accepts a connection or the
// timeout runs out. Timing out is never fatal, callers decide how loud
// to complain.
func (m *Mudur) waitBus(path string, timeout, interval time.Duration, stream bool) bool {
	network := "unix"
	if !stream {
		network = "unixgram"
	}

	start := time.Now()
	deadline := start.Add(timeout)
	for {
		conn, err := net.DialTimeout(network, path, interval)
		if err == nil {
			conn.Close()
			m.log.Debug("Waited %.2f sec for '%s'", time.Since(start).Seconds(), path)
			return true
		}
		if time.Now().After(deadline) {
			m.log.Debug("Waited %.2f seconds for '%s'", time.Since(start).Seconds(), path)
			return false
		}
		m.sleep(interval)
	}
}

// manageService fires a start/ready/stop request at a service through
// the service-control binary. The call is detached and never waited
// on: service initialization happens in the background while the
// sequencer moves on.
func (m *Mudur) manageService(service, command string) {
	m.log.Debug("%s service %s..", command, service)
	if _, err := m.run.Detach("", serviceBin, "--quiet", service, command); err != nil {
		m.ui.Warn(fmt.Sprintf("Unable to %s service %s:\n  %s", command, service, err.Error()))
	}
	m.log.Debug("%s service %s..done", command, service)
	m.splash.Update(service)
}

// listServices asks the service bus for the known service list. With
// all=false the result is intersected with the locally enabled and
// conditional sets.
func (m *Mudur) listServices(conn *dbus.Conn, all bool) ([]string, error) {
	var services []string
	obj := conn.Object(comarDest, dbus.ObjectPath(comarPath))
	if err := obj.Call(comarMethod, 0, "System.Service").Store(&services); err != nil {
		return nil, err
	}
	if all {
		return services, nil
	}

	local := make(map[string]struct{})
	for _, dir := range []string{enabledServicesDir, conditionalServicesDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			local[e.Name()] = struct{}{}
		}
	}

	var picked []string
	for _, s := range services {
		if _, ok := local[s]; ok {
			picked = append(picked, s)
		}
	}
	return picked, nil
}

// startServices readies the system services over the bus, giving the
// logger and network a head start. A missing bus just means services
// do not start, the boot itself continues.
func (m *Mudur) startServices() Outcome {
	conn, err := dbus.SystemBus()
	if err != nil {
		m.ui.Error("Cannot connect to DBus, services won't be started")
		return OutcomeCompleted
	}
	defer conn.Close()

	if len(m.cfg.Services) > 0 {
		// an explicit service list replaces the enabled set entirely
		for _, service := range m.cfg.Services {
			m.manageService(service, "start")
		}
		return OutcomeCompleted
	}

	m.manageService("NetworkManager", "ready")

	// almost everything logs, so rsyslog starts first and gets a
	// bounded wait for its socket
	m.manageService("rsyslog", "start")
	if !m.waitBus(syslogSocket, 15*time.Second, 100*time.Millisecond, false) {
		m.ui.Warn("Cannot start system logger")
	}

	m.mountRemoteFilesystems()

	if !m.cfg.Safe {
		m.ui.Info("Starting services")

		services, err := m.listServices(conn, false)
		if err != nil {
			m.ui.Warn(fmt.Sprintf("Cannot list services: %s", err.Error()))
		}

		pending := make(map[string]struct{})
		for _, s := range services {
			pending[s] = struct{}{}
		}
		// already running
		delete(pending, "rsyslog")
		delete(pending, "NetworkManager")

		headStart := m.cfg.HeadStart
		_, runHeadStart := pending[headStart]
		runHeadStart = runHeadStart && headStart != ""

		// the splash stays up only when a login screen is coming
		stopSplash := hasKernelFlag("xorg", "off") || !runHeadStart

		if runHeadStart {
			m.manageService(headStart, "ready")
			delete(pending, headStart)
		}

		rest := make([]string, 0, len(pending))
		for s := range pending {
			rest = append(rest, s)
		}
		sort.Strings(rest)
		for _, service := range rest {
			m.manageService(service, "ready")
		}

		if stopSplash {
			m.splash.Quit(false)
		}
	}
	return OutcomeCompleted
}

// stopServices signals stop to every known service. No ordering
// guarantee beyond "all eventually signaled".
func (m *Mudur) stopServices() Outcome {
	m.ui.Info("Stopping services")

	conn, err := dbus.SystemBus()
	if err != nil {
		return OutcomeCompleted
	}
	defer conn.Close()

	services, err := m.listServices(conn, true)
	if err != nil {
		return OutcomeCompleted
	}
	for _, service := range services {
		m.manageService(service, "stop")
	}
	return OutcomeCompleted
}

// startDBus brings up the system bus and waits for its socket.
func (m *Mudur) startDBus() Outcome {
	m.ui.Info("Starting DBus")
	if !exists(dbusMachineID) {
		m.run.Run(dbusUUIDGenBin, "--ensure")
	}
	os.MkdirAll("/run/dbus", 0755)
	m.run.Run(startStopDaemonBin, "-b", "--start", "--quiet",
		"--pidfile", dbusPidFile, "--exec", dbusDaemonBin,
		"--", "--system")
	m.waitBus(dbusSocket, 5*time.Second, 100*time.Millisecond, true)
	return OutcomeCompleted
}

// stopDBus stops the system bus daemon.
func (m *Mudur) stopDBus() Outcome {
	m.ui.Info("Stopping DBus")
	m.run.Run(startStopDaemonBin, "--stop", "--quiet", "--pidfile", dbusPidFile)
	return OutcomeCompleted
}
