package mudur

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	configFile    = "/etc/conf.d/mudur"
	forceFsckFile = "/forcefsck"
	liveMediaFile = "/run/pisilinux/livemedia"
	cmdlineFile   = "/proc/cmdline"
)

// Language holds the console and locale settings selected by a
// language code.
type Language struct {
	Keymap string
	Font   string
	Trans  string
	Locale string
}

var languages = map[string]Language{
	"ca":    {"es", "iso01.16", "8859-1", "ca_ES.UTF-8"},
	"de":    {"de", "iso01.16", "8859-1", "de_DE.UTF-8"},
	"en":    {"us", "iso01.16", "8859-1", "en_US.UTF-8"},
	"es":    {"es", "iso01.16", "8859-1", "es_ES.UTF-8"},
	"fr":    {"fr", "iso01.16", "8859-1", "fr_FR.UTF-8"},
	"hu":    {"hu", "lat2a-16", "8859-2", "hu_HU.UTF-8"},
	"it":    {"it", "iso01.16", "8859-1", "it_IT.UTF-8"},
	"nl":    {"nl", "iso01.16", "8859-1", "nl_NL.UTF-8"},
	"pl":    {"pl", "iso02.16", "8859-2", "pl_PL.UTF-8"},
	"pt_BR": {"br-abnt2", "iso01.16", "8859-1", "pt_BR.UTF-8"},
	"ru":    {"ru", "Cyr_a8x16", "8859-5", "ru_RU.UTF-8"},
	"sv":    {"sv-latin1", "lat0-16", "8859-1", "sv_SE.UTF-8"},
	"tr":    {"trq", "lat5u-16", "8859-9", "tr_TR.UTF-8"},
}

// Config is the merged option set: built-in defaults, then
// /etc/conf.d/mudur, then the mudur= kernel command line directive.
// Every recognized option is a field; an unknown key is a warning at
// parse time, never a late runtime failure.
type Config struct {
	Language    string
	Clock       string
	ClockAdjust bool
	TTYNumber   int
	LXCGuest    bool
	Keymap      string
	Debug       bool
	Live        bool
	Safe        bool
	ForceFsck   bool
	HeadStart   string
	Services    []string

	// Profile is the bare "profile" flag inside mudur=.
	Profile bool

	// Kernel is the running kernel version split into components, used
	// to select module autoload files.
	Kernel []string
}

func defaultConfig() *Config {
	return &Config{
		Language:  "en",
		Clock:     "local",
		TTYNumber: 6,
		Debug:     true,
	}
}

// set applies one key=value pair to the matching field. A bare flag
// arrives with an empty value and turns boolean options on. Returns
// false for unrecognized keys.
func (c *Config) set(key, value string) bool {
	switch key {
	case "language":
		if value != "" {
			c.Language = value
		}
	case "clock":
		if value != "" {
			c.Clock = value
		}
	case "clock_adjust":
		c.ClockAdjust = parseBool(value)
	case "tty_number":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			c.TTYNumber = n
		}
	case "lxc_guest":
		c.LXCGuest = parseBool(value)
	case "keymap":
		if value != "" {
			c.Keymap = value
		}
	case "debug":
		c.Debug = parseBool(value)
	case "live":
		c.Live = parseBool(value)
	case "safe":
		c.Safe = parseBool(value)
	case "forcefsck":
		c.ForceFsck = parseBool(value)
	case "head_start":
		c.HeadStart = value
	case "services":
		c.Services = strings.Fields(value)
	case "profile":
		c.Profile = parseBool(value)
	default:
		return false
	}
	return true
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "", "yes", "true", "1", "on":
		return true
	}
	return false
}

// resolveOptions merges defaults, the config file map and the kernel
// command line map in increasing priority and normalizes the result.
func resolveOptions(file, kernel map[string]string, warn func(format string, args ...interface{})) *Config {
	c := defaultConfig()

	for _, src := range []map[string]string{file, kernel} {
		for key, value := range src {
			if key == "thin" {
				// handled below together with the livemedia marker
				continue
			}
			if !c.set(key, value) {
				warn("Unknown option '%s' requested", key)
			}
		}
	}

	if _, thin := kernel["thin"]; thin {
		c.Live = true
	}

	// Unknown language falls back to English; the default language
	// table only matters for console setup, not for message text.
	if _, ok := languages[c.Language]; !ok {
		warn("Unknown language option '%s'", c.Language)
		c.Language = "en"
	}

	// No keymap given: use the language's default.
	if c.Keymap == "" {
		c.Keymap = languages[c.Language].Keymap
	}

	return c
}

// ResolveConfig builds the process-wide configuration from the real
// system state. It is called exactly once, before any stage runs.
func ResolveConfig() *Config {
	// The event logger does not exist yet; early warnings go straight
	// to the console.
	warn := newConsoleLogger().Warnf

	file, err := loadConfigFile(configFile)
	if err != nil {
		// unreadable config file is treated as empty, not fatal
		file = nil
	}

	cmdline := readKernelCmdline()
	c := resolveOptions(file, kernelOption(cmdline, "mudur"), warn)

	// The sentinel file always wins over any configured value.
	c.ForceFsck = exists(forceFsckFile)
	if exists(liveMediaFile) {
		c.Live = true
	}

	c.Kernel = kernelVersionParts()
	return c
}

// loadConfigFile parses a key=value file. Comment lines and lines
// without '=' are ignored, values may be wrapped in single or double
// quotes.
func loadConfigFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := make(map[string]string)
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		key := strings.TrimSpace(kv[0])
		value := strings.Trim(strings.TrimSpace(kv[1]), "'\"")
		data[key] = value
	}
	return data, s.Err()
}

func readKernelCmdline() string {
	b, err := os.ReadFile(cmdlineFile)
	if err != nil {
		return ""
	}
	return string(b)
}

// kernelOption extracts the comma separated key[:value] fragments of
// one kernel command line token, e.g. mudur=language:tr,forcefsck.
func kernelOption(cmdline, option string) map[string]string {
	args := make(map[string]string)

	for _, token := range strings.Fields(cmdline) {
		name, rest := token, ""
		if i := strings.Index(token, "="); i >= 0 {
			name, rest = token[:i], token[i+1:]
		}
		if name != option {
			continue
		}
		for _, arg := range strings.Split(rest, ",") {
			if arg == "" {
				continue
			}
			if i := strings.Index(arg, ":"); i >= 0 {
				args[arg[:i]] = arg[i+1:]
			} else {
				args[arg] = ""
			}
		}
	}
	return args
}

// hasKernelFlag reports whether the given token carries the flag, e.g.
// xorg=off on the command line.
func hasKernelFlag(option, flag string) bool {
	_, ok := kernelOption(readKernelCmdline(), option)[flag]
	return ok
}

func kernelVersionParts() []string {
	vers := unameRelease()
	vers = strings.ReplaceAll(vers, "_", ".")
	vers = strings.ReplaceAll(vers, "-", ".")
	return strings.Split(vers, ".")
}

func unameRelease() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Release[:])
}
