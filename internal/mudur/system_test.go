package mudur

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHostnameOverride(t *testing.T) {
	assert.Equal(t, "buildbox",
		parseHostnameOverride("# comment\nHOSTNAME=\"buildbox\"\n"))
	assert.Equal(t, "", parseHostnameOverride("OTHER=\"x\"\n"))
	assert.Equal(t, "", parseHostnameOverride(""))
}

func TestFormatHostnameOverrideRoundTrip(t *testing.T) {
	data := "# set the hostname here\nHOSTNAME=\"old\"\nEXTRA=\"keep\"\n"

	out := formatHostnameOverride(data, "new")
	assert.Equal(t, "new", parseHostnameOverride(out))
	assert.Contains(t, out, "EXTRA=\"keep\"")
	assert.Contains(t, out, "# set the hostname here")
}

func TestFormatHostnameOverridePrependsWhenMissing(t *testing.T) {
	out := formatHostnameOverride("EXTRA=\"keep\"\n", "box")
	assert.Equal(t, "box", parseHostnameOverride(out))
	assert.Contains(t, out, "EXTRA=\"keep\"")
}

func TestSetDiskParametersSkipsInSafeMode(t *testing.T) {
	run := newFakeRunner()
	m := newTestMudur(run)
	m.cfg.Safe = true

	assert.Equal(t, OutcomeCompleted, m.setDiskParameters())
	assert.Empty(t, run.calls)
}

func TestRunLocalStartSkipsInSafeMode(t *testing.T) {
	run := newFakeRunner()
	m := newTestMudur(run)
	m.cfg.Safe = true

	assert.Equal(t, OutcomeCompleted, m.runLocalStart())
	assert.Empty(t, run.calls)
}

func TestDisableSwapSkipsGuests(t *testing.T) {
	run := newFakeRunner()
	m := newTestMudur(run)
	m.cfg.LXCGuest = true

	assert.Equal(t, OutcomeCompleted, m.disableSwap())
	assert.Empty(t, run.calls)
}

func TestDisableSwapUnmountsTmpfsFirst(t *testing.T) {
	run := newFakeRunner()
	m := newTestMudur(run)

	m.disableSwap()

	assert.Equal(t, 2, len(run.calls))
	assert.Equal(t, umountBin, run.calls[0].name)
	assert.Equal(t, swapoffBin, run.calls[1].name)
}
