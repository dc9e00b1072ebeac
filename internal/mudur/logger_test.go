package mudur

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerStripsColors(t *testing.T) {
	l := NewLogger(false)
	l.Log("checking \x1b[32;01mroot\x1b[0m filesystem")

	assert.Contains(t, l.contents(), "checking root filesystem")
	assert.NotContains(t, l.contents(), "\x1b[")
}

func TestLoggerLineFormat(t *testing.T) {
	l := NewLogger(false)
	l.Log("hello")

	line := regexp.MustCompile(`\[\d+\.\d{3}\] \w{3} \d{2} \d{2}:\d{2}:\d{2} hello`)
	assert.Regexp(t, line, l.contents())
}

func TestLoggerDebugLevel(t *testing.T) {
	quiet := NewLogger(false)
	quiet.Debug("invisible")
	assert.NotContains(t, quiet.contents(), "invisible")

	verbose := NewLogger(true)
	verbose.Debug("visible")
	assert.Contains(t, verbose.contents(), "visible")
}
