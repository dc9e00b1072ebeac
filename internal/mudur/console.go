package mudur

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	kbdModeBin  = "/usr/bin/kbd_mode"
	loadkeysBin = "/bin/loadkeys"
	setfontBin  = "/usr/bin/setfont"
	releaseFile = "/etc/pisilinux-release"

	unicodeMagic = "\x1b%G"

	// from linux/kd.h
	kdSKBMode = 0x4B45
	kUnicode  = 0x03
)

var colors = map[string]string{
	"red":         "\x1b[31;01m",
	"blue":        "\x1b[34;01m",
	"cyan":        "\x1b[36;01m",
	"gray":        "\x1b[30;01m",
	"green":       "\x1b[32;01m",
	"light":       "\x1b[37;01m",
	"yellow":      "\x1b[33;01m",
	"magenta":     "\x1b[35;01m",
	"reddark":     "\x1b[31;0m",
	"bluedark":    "\x1b[34;0m",
	"cyandark":    "\x1b[36;0m",
	"graydark":    "\x1b[30;0m",
	"greendark":   "\x1b[32;0m",
	"magentadark": "\x1b[35;0m",
	"normal":      "\x1b[0m",
}

// UI prints severity-colored console messages and mirrors them into
// the event log. Errors are flagged on the boot splash before the text
// appears.
type UI struct {
	debug  bool
	log    *Logger
	splash *Splash
	out    io.Writer
}

func newUI(cfg *Config, log *Logger, splash *Splash, out io.Writer) *UI {
	return &UI{
		debug:  cfg.Debug,
		log:    log,
		splash: splash,
		out:    out,
	}
}

func (u *UI) star(color, msg string) {
	fmt.Fprintf(u.out, " %s*%s %s\n", colors[color], colors["normal"], msg)
}

// Info prints an informational message, logged only in debug mode.
func (u *UI) Info(msg string) {
	if u.debug {
		u.log.Log("%s", msg)
	}
	u.star("green", msg)
}

// Warn prints and logs a warning.
func (u *UI) Warn(msg string) {
	u.log.Log("%s", msg)
	u.star("yellow", msg)
}

// Error flags the splash, then prints and logs the error.
func (u *UI) Error(msg string) {
	u.splash.ReportError()
	u.log.Log("%s", msg)
	u.star("red", msg)
}

// Colorize wraps msg in the named color.
func (u *UI) Colorize(color, msg string) string {
	return colors[color] + msg + colors["normal"]
}

// greet switches the console to unicode mode and prints the release
// banner.
func (m *Mudur) greet() Outcome {
	fmt.Fprintf(m.ui.out, "%s\n", unicodeMagic)
	if exists(releaseFile) {
		release := strings.TrimRight(loadFile(releaseFile), "\n")
		fmt.Fprintf(m.ui.out, "\x1b[1m  %s  \x1b[0;36mhttp://www.pisilinux.org\x1b[0m\n\n", release)
	} else {
		m.ui.Error("Cannot find /etc/pisilinux-release")
	}
	return OutcomeCompleted
}

// setConsoleParameters sets up encoding, font and keymap for the
// console.
func (m *Mudur) setConsoleParameters() Outcome {
	language := languages[m.cfg.Language]

	m.run.Run(kbdModeBin, "-u")
	m.run.RunQuiet(loadkeysBin, m.cfg.Keymap)
	m.run.Run(setfontBin, "-f", language.Font, "-m", language.Trans)
	return OutcomeCompleted
}

// setUnicodeMode makes tty1..ttyN unicode compatible.
func (m *Mudur) setUnicodeMode() Outcome {
	language := languages[m.cfg.Language]

	for i := 1; i <= m.cfg.TTYNumber; i++ {
		tty := fmt.Sprintf("/dev/tty%d", i)
		if !exists(tty) {
			continue
		}
		if err := setTTYUnicode(tty); err != nil {
			m.ui.Error(fmt.Sprintf("Could not set unicode mode on tty %d", i))
			continue
		}
		m.run.Run(setfontBin, "-f", language.Font, "-m", language.Trans, "-C", tty)
	}
	return OutcomeCompleted
}

func setTTYUnicode(tty string) error {
	f, err := os.OpenFile(tty, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.IoctlSetInt(int(f.Fd()), kdSKBMode, kUnicode); err != nil {
		return err
	}
	_, err = f.WriteString(unicodeMagic)
	return err
}
