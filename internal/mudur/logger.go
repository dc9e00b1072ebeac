package mudur

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	easy "github.com/t-tomalak/logrus-easy-formatter"
)

const (
	eventLogFile = "/var/log/mudur.log"
	uptimeFile   = "/proc/uptime"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// eventFormatter renders one event log line as
// "[<uptime>] <Mon dd HH:MM:SS> msg" with any console color sequences
// stripped out.
type eventFormatter struct{}

func (eventFormatter) Format(e *logrus.Entry) ([]byte, error) {
	msg := ansiEscape.ReplaceAllString(e.Message, "")
	stamp := e.Time.Format("Jan 02 15:04:05")
	return []byte(fmt.Sprintf("[%.3f] %s %s\n", uptime(), stamp, msg)), nil
}

// Logger buffers the line-oriented boot event log in memory. Nothing
// is written to disk until Flush, because the root filesystem is
// read-only for most of sysinit.
type Logger struct {
	mu  sync.Mutex
	buf bytes.Buffer
	log *logrus.Logger
}

// NewLogger builds the event logger. Debug messages are dropped unless
// the debug option is on.
func NewLogger(debugEnabled bool) *Logger {
	l := &Logger{}
	level := logrus.InfoLevel
	if debugEnabled {
		level = logrus.DebugLevel
	}
	l.log = &logrus.Logger{
		Out:       &l.buf,
		Level:     level,
		Formatter: eventFormatter{},
	}
	l.buf.WriteString("\n")
	return l
}

// Log records one event line.
func (l *Logger) Log(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Infof(format, args...)
}

// Debug records an event line only when debug logging is enabled.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Debugf(format, args...)
}

// Flush appends the buffered lines to /var/log/mudur.log.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.WriteString("\n")
	f, err := os.OpenFile(eventLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(l.buf.Bytes()); err != nil {
		return err
	}
	l.buf.Reset()
	return nil
}

// contents returns the buffered log text, for tests.
func (l *Logger) contents() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// newConsoleLogger builds the leveled logger used for diagnostics that
// cannot wait for the buffered event log: warnings emitted while the
// configuration is still being resolved and spawn failures inside the
// command runner.
func newConsoleLogger() *logrus.Logger {
	return &logrus.Logger{
		Out:   os.Stderr,
		Level: logrus.WarnLevel,
		Formatter: &easy.Formatter{
			TimestampFormat: "01-02 15:04:05",
			LogFormat:       "[%lvl%]: %time% - %msg%\n",
		},
	}
}

// uptime returns the seconds since boot, the monotonic part of every
// event log stamp.
func uptime() float64 {
	up, err := os.ReadFile(uptimeFile)
	if err != nil {
		return 0.0
	}

	// first field is the uptime in seconds
	f, err := strconv.ParseFloat(strings.SplitN(string(up), " ", 2)[0], 64)
	if err != nil {
		return 0.0
	}
	return f
}
