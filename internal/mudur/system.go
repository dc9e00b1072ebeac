package mudur

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"
)

const (
	hostnameBin          = "/bin/hostname"
	modprobeBin          = "/sbin/modprobe"
	sysctlBin            = "/sbin/sysctl"
	hdparmBin            = "/sbin/hdparm"
	swaponBin            = "/sbin/swapon"
	swapoffBin           = "/sbin/swapoff"
	chgrpBin             = "/bin/chgrp"
	kmodBin              = "/usr/bin/kmod"
	bashBin              = "/bin/bash"
	updateEnvironmentBin = "/sbin/update-environment"

	hostnameOverrideFile = "/etc/env.d/01hostname"
	defaultHostname      = "pisilinux"

	modulesAutoloadDir = "/etc/modules.autoload.d"
	sysctlConf         = "/etc/sysctl.conf"
	hdparmConf         = "/etc/conf.d/hdparm"
	localStartScript   = "/etc/conf.d/local.start"
	localStopScript    = "/etc/conf.d/local.stop"

	printkFile     = "/proc/sys/kernel/printk"
	procModules    = "/proc/modules"
	sysBlockDir    = "/sys/block"
	envDir         = "/etc/env.d"
	profileEnvFile = "/etc/profile.env"

	mudurStateDir = "/etc/mudur"
	languageFile  = "/etc/mudur/language"
	keymapFile    = "/etc/mudur/keymap"
	localeFile    = "/etc/mudur/locale"
	localeEnvFile = "/etc/env.d/03locale"

	utmpFile   = "/run/utmp"
	wtmpFile   = "/var/log/wtmp"
	bootIDFile = "/run/mudur/boot-id"

	needsRestartFile = "/var/lib/pisi/info/needsrestart"
	needsRebootFile  = "/var/lib/pisi/info/needsreboot"
)

// parseHostnameOverride extracts the HOSTNAME="..." value from an
// env.d style file body, empty when absent.
func parseHostnameOverride(data string) string {
	i := strings.Index(data, `HOSTNAME="`)
	if i < 0 {
		return ""
	}
	rest := data[i+len(`HOSTNAME="`):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// formatHostnameOverride rewrites the HOSTNAME="..." value in place,
// prepending the assignment when the file had none.
func formatHostnameOverride(data, host string) string {
	i := strings.Index(data, `HOSTNAME="`)
	if i < 0 {
		return `HOSTNAME="` + host + "\"\n" + data
	}
	start := i + len(`HOSTNAME="`)
	j := strings.Index(data[start:], `"`)
	if j < 0 {
		return `HOSTNAME="` + host + "\"\n" + data
	}
	return data[:start] + host + data[start+j:]
}

// setHostname picks the hostname: the kernel wins when it already got
// one (pxeboot), then the override file, then the distribution
// default. The choice is written back so later boots agree.
func (m *Mudur) setHostname() Outcome {
	khost, _, _ := m.run.Capture(hostnameBin)
	khost = strings.TrimSpace(khost)

	var data, uhost string
	if exists(hostnameOverrideFile) {
		data = loadFile(hostnameOverrideFile)
		uhost = parseHostnameOverride(data)
	}

	host := khost
	if host == "" || host == "(none)" {
		host = uhost
		if host == "" {
			host = defaultHostname
		}
	}

	if uhost != "" && host != uhost {
		writeToFile(hostnameOverrideFile, formatHostnameOverride(data, host))
	}

	m.ui.Info(fmt.Sprintf("Setting up hostname as '%s'", m.ui.Colorize("light", host)))
	m.run.Run(hostnameBin, host)
	return OutcomeCompleted
}

// minimizePrintkLogLevel quiets kernel console output for a cleaner
// boot.
func (m *Mudur) minimizePrintkLogLevel() Outcome {
	writeToFile(printkFile, "1")
	return OutcomeCompleted
}

// autoloadModules loads every module listed for the running kernel
// generation under /etc/modules.autoload.d.
func (m *Mudur) autoloadModules() Outcome {
	if !exists(procModules) {
		return OutcomeCompleted
	}

	major := ""
	if len(m.cfg.Kernel) > 0 {
		major = m.cfg.Kernel[0]
	}
	files, err := filepath.Glob(filepath.Join(modulesAutoloadDir, "kernel-"+major+"*"))
	if err != nil {
		return OutcomeCompleted
	}
	for _, file := range files {
		for _, module := range strings.Split(loadFile(file), "\n") {
			if module == "" {
				continue
			}
			m.run.Run(modprobeBin, "-q", "-b", module)
		}
	}
	return OutcomeCompleted
}

// runSysctl applies the static sysctl.conf rules.
func (m *Mudur) runSysctl() Outcome {
	m.run.Run(sysctlBin, "-q", "-p", sysctlConf)
	return OutcomeCompleted
}

// setDiskParameters applies per-device hdparm flags. The "all" entry
// covers every plain sd? disk that has no explicit entry of its own.
func (m *Mudur) setDiskParameters() Outcome {
	if m.cfg.Safe || !exists(hdparmConf) {
		return OutcomeCompleted
	}

	conf, err := loadConfigFile(hdparmConf)
	if err != nil || len(conf) == 0 {
		return OutcomeCompleted
	}

	m.ui.Info("Setting disk parameters")

	hdparm := func(flags, device string) {
		args, err := shellwords.Parse(flags)
		if err != nil {
			m.ui.Warn(fmt.Sprintf("Bad hdparm flags for %s: %s", device, err.Error()))
			return
		}
		m.run.RunQuiet(hdparmBin, append(args, device)...)
	}

	if allFlags, ok := conf["all"]; ok {
		entries, err := os.ReadDir(sysBlockDir)
		if err == nil {
			for _, e := range entries {
				name := e.Name()
				if !strings.HasPrefix(name, "sd") || len(name) != 3 {
					continue
				}
				if _, explicit := conf[name]; explicit {
					continue
				}
				hdparm(allFlags, "/dev/"+name)
			}
		}
	}

	devices := make([]string, 0, len(conf))
	for device := range conf {
		if device != "all" {
			devices = append(devices, device)
		}
	}
	sort.Strings(devices)
	for _, device := range devices {
		hdparm(conf[device], "/dev/"+device)
	}
	return OutcomeCompleted
}

// enableSwap activates all fstab swap space.
func (m *Mudur) enableSwap() Outcome {
	m.ui.Info("Activating swap space")
	m.run.Run(swaponBin, "-a")
	return OutcomeCompleted
}

// disableSwap turns swap off. Swapped tmpfs filesystems are unmounted
// first: a tmpfs living in swap deadlocks swapoff.
func (m *Mudur) disableSwap() Outcome {
	if m.cfg.LXCGuest {
		return OutcomeCompleted
	}
	m.run.RunQuiet(umountBin, "-at", "tmpfs")

	m.ui.Info("Deactivating swap space")
	m.run.RunQuiet(swapoffBin, "-a")
	return OutcomeCompleted
}

// setSystemLanguage publishes the resolved language, keymap and locale
// for other programs, so nothing else duplicates the
// default/config/kernel-option merge done here.
func (m *Mudur) setSystemLanguage() Outcome {
	language := languages[m.cfg.Language]

	os.MkdirAll(mudurStateDir, 0755)
	writeToFile(languageFile, m.cfg.Language+"\n")
	writeToFile(keymapFile, m.cfg.Keymap+"\n")
	writeToFile(localeFile, language.Locale+"\n")

	content := fmt.Sprintf("LANG=%s\nLC_ALL=%s\n", language.Locale, language.Locale)
	if content != loadFile(localeEnvFile) {
		if err := writeToFile(localeEnvFile, content); err != nil {
			m.ui.Warn("/etc/env.d/03locale cannot be updated")
		}
	}
	return OutcomeCompleted
}

// writeBootRecords seeds the login accounting files and the per-boot
// session id.
func (m *Mudur) writeBootRecords() Outcome {
	// init writes a boot record to utmp when this runlevel ends
	writeToFile(utmpFile, "")
	touch(wtmpFile)

	m.run.Run(chgrpBin, "utmp", utmpFile, wtmpFile)
	os.Chmod(utmpFile, 0664)
	os.Chmod(wtmpFile, 0664)

	bootID := uuid.NewString()
	os.MkdirAll(filepath.Dir(bootIDFile), 0755)
	writeToFile(bootIDFile, bootID+"\n")
	m.log.Log("boot session %s", bootID)
	return OutcomeCompleted
}

// createTmpfiles prepares static device nodes and shared memory.
func (m *Mudur) createTmpfiles() Outcome {
	m.ui.Info("Creating tmpfiles")
	os.MkdirAll("/run/tmpfiles.d", 0755)
	m.run.Run(kmodBin, "static-nodes", "--format=tmpfiles", "--output=/run/tmpfiles.d/kmod.conf")
	m.run.Run(mountBin, "-t", "tmpfs", "tmpfs", "/dev/shm")
	return OutcomeCompleted
}

// updateEnvironment regenerates profile.env when anything under
// /etc/env.d changed since the last boot.
func (m *Mudur) updateEnvironment() Outcome {
	if mdirtime(envDir).After(mtime(profileEnvFile)) {
		m.ui.Info("Updating environment variables")
		m.run.Run(updateEnvironmentBin)
	}
	return OutcomeCompleted
}

// pruneNeedsActionPackageList clears the pending service-restart and
// reboot markers left by the package manager.
func (m *Mudur) pruneNeedsActionPackageList() Outcome {
	for _, file := range []string{needsRestartFile, needsRebootFile} {
		if exists(file) {
			os.Remove(file)
		}
	}
	return OutcomeCompleted
}

var tmpCleanupGlobs = []string{
	"/tmp/gpg-*",
	"/tmp/kde-*",
	"/tmp/kde4-*",
	"/tmp/kio*",
	"/tmp/ksocket-*",
	"/tmp/ksocket4-*",
	"/tmp/mc-*",
	"/tmp/pisi-*",
	"/tmp/pulse-*",
	"/tmp/quilt.*",
	"/tmp/ssh-*",
	"/tmp/.*-unix",
	"/tmp/.X*-lock",
}

// cleanupTmp clears session leftovers and recreates the sticky X11
// socket directories.
func (m *Mudur) cleanupTmp() Outcome {
	m.ui.Info("Cleaning up /tmp")

	for _, glob := range tmpCleanupGlobs {
		matches, err := filepath.Glob(glob)
		if err != nil {
			continue
		}
		for _, match := range matches {
			os.RemoveAll(match)
		}
	}

	for _, dir := range []string{"/tmp/.ICE-unix", "/tmp/.X11-unix"} {
		os.MkdirAll(dir, 0755)
		os.Chown(dir, 0, 0)
		os.Chmod(dir, os.ModeSticky|0777)
	}
	return OutcomeCompleted
}

// runLocalStart sources the administrator's boot hook.
func (m *Mudur) runLocalStart() Outcome {
	if !m.cfg.Safe && exists(localStartScript) {
		m.run.Run(bashBin, localStartScript)
	}
	return OutcomeCompleted
}

// runLocalStop sources the administrator's shutdown hook.
func (m *Mudur) runLocalStop() {
	if !m.cfg.Safe && exists(localStopScript) {
		m.run.Run(bashBin, localStopScript)
	}
}
