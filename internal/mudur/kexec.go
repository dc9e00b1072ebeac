package mudur

import (
	"path/filepath"
	"strconv"
	"strings"
)

const (
	kexecBin        = "/usr/sbin/kexec"
	kexecConf       = "/etc/conf.d/kexec"
	grubDefaultFile = "/boot/grub/default"
	kexecLoadedFile = "/sys/kernel/kexec_loaded"
	bootDir         = "/boot"
)

// grubOnceInhibited reports whether grub's saved default entry carries
// the "boot once" bit. A kexec would bypass that one-shot choice, so it
// is suppressed for this cycle.
func grubOnceInhibited(data string) bool {
	v, err := strconv.Atoi(strings.Trim(data, " \t\n\x00"))
	if err != nil {
		return false
	}
	return (v ^ 0x4000) < 0x4000
}

// resolveKexecImages picks the kernel and initramfs to stage. The
// "latest" symlinks win when present, suffixed with the kernel variant
// (e.g. -pae) when the running version carries one; otherwise the
// images of the running kernel version are used.
func resolveKexecImages(dir, version string) (kernel, initramfs string) {
	suffix := ""
	if i := strings.LastIndex(version, "-"); i >= 0 {
		suffix = "-" + version[i+1:]
	}

	kernel = filepath.Join(dir, "latest-kernel")
	if exists(kernel) {
		kernel += suffix
	} else {
		kernel = filepath.Join(dir, "kernel-"+version)
	}

	initramfs = filepath.Join(dir, "latest-initramfs")
	if exists(initramfs) {
		initramfs += suffix
	} else {
		initramfs = filepath.Join(dir, "initramfs-"+version)
	}
	return kernel, initramfs
}

// loadKexecImage stages the next kernel in memory when the kexec
// configuration enables it for the current shutdown flavor. Returns
// true when the kernel reports a staged image.
func (m *Mudur) loadKexecImage() bool {
	if m.cfg.LXCGuest {
		return false
	}

	if exists(grubDefaultFile) && grubOnceInhibited(loadFileRaw(grubDefaultFile)) {
		return false
	}
	if !exists(kexecBin) {
		return false
	}

	conf, err := loadConfigFile(kexecConf)
	if err != nil {
		return false
	}

	enabled := false
	switch m.runlevel {
	case RunlevelReboot:
		enabled = conf["KEXEC_REBOOT"] == "yes"
	case RunlevelShutdown:
		enabled = conf["KEXEC_SHUTDOWN"] == "yes"
	}
	if !enabled {
		return false
	}

	kernel, initramfs := resolveKexecImages(bootDir, unameRelease())
	if img := conf["KERNEL_IMAGE"]; img != "" {
		kernel = img
	}
	if img := conf["INITRD_IMAGE"]; img != "" {
		initramfs = img
	}

	level := strings.ToUpper(string(m.runlevel))
	args := []string{"--load", kernel, "--initrd=" + initramfs}
	if overwrite := conf["OVERWRITE_CMDLINE_"+level]; overwrite != "" {
		args = append(args, "--command-line="+overwrite)
	} else {
		args = append(args, "--reuse-cmdline")
		if extra := conf["APPEND_CMDLINE_"+level]; extra != "" {
			args = append(args, "--append="+extra)
		}
	}

	m.ui.Info("Loading kexec kernel image")
	m.run.RunQuiet(kexecBin, args...)

	return strings.TrimSpace(loadFile(kexecLoadedFile)) == "1"
}

// kexecHalt jumps into the staged kernel. Does not return on success.
func (m *Mudur) kexecHalt() {
	if m.cfg.LXCGuest {
		return
	}
	m.run.RunQuiet(kexecBin, "-e")
}
