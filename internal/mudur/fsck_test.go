package mudur

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fsckFixture(fsckStatus int) (*Mudur, *fakeRunner) {
	run := newFakeRunner()
	run.status[fsckBin] = fsckStatus
	m := newTestMudur(run)
	m.setFstab([]mountEntry{
		{device: "/dev/sda1", mountpoint: "/", fstype: "ext4", passno: 1},
	})
	return m, run
}

func TestCheckRootFilesystemClean(t *testing.T) {
	m, run := fsckFixture(0)

	assert.Equal(t, OutcomeCompleted, m.checkRootFilesystem())
	assert.Equal(t, 1, run.ran(fsckBin))
	assert.Zero(t, run.ran(rebootBin))
	assert.Zero(t, run.ran(suloginBin))
}

func TestCheckRootFilesystemRepairedReboots(t *testing.T) {
	m, run := fsckFixture(2)

	assert.Equal(t, OutcomeRebooted, m.checkRootFilesystem())
	assert.Equal(t, 1, run.ran(rebootBin))
	assert.Equal(t, []string{"-f"}, run.calls[len(run.calls)-1].args)
}

func TestCheckRootFilesystemUnrepairable(t *testing.T) {
	m, run := fsckFixture(7)

	assert.Equal(t, OutcomeRescue, m.checkRootFilesystem())
	assert.Zero(t, run.ran(rebootBin))
}

func TestCheckRootFilesystemSkipsOnLive(t *testing.T) {
	m, run := fsckFixture(7)
	m.cfg.Live = true

	assert.Equal(t, OutcomeCompleted, m.checkRootFilesystem())
	assert.Zero(t, run.ran(fsckBin))
}

func TestCheckRootFilesystemSkipsPassnoZero(t *testing.T) {
	run := newFakeRunner()
	run.status[fsckBin] = 7
	m := newTestMudur(run)
	m.setFstab([]mountEntry{
		{device: "/dev/sda1", mountpoint: "/", fstype: "ext4", passno: 0},
	})

	assert.Equal(t, OutcomeCompleted, m.checkRootFilesystem())
	assert.Zero(t, run.ran(fsckBin))
}

// code 2/3 from the all-filesystems pass means corrected, not reboot;
// root gets the stricter handling above
func TestCheckFilesystemsCorrectedContinues(t *testing.T) {
	m, run := fsckFixture(3)

	assert.Equal(t, OutcomeCompleted, m.checkFilesystems())
	assert.Zero(t, run.ran(rebootBin))
	assert.Contains(t, m.log.contents(), "Filesystem errors corrected")
}

func TestCheckFilesystemsUnrepairable(t *testing.T) {
	m, _ := fsckFixture(8)
	assert.Equal(t, OutcomeRescue, m.checkFilesystems())
}

func TestRescueOutcomeRunsSulogin(t *testing.T) {
	run := newFakeRunner()
	m := newTestMudur(run)

	stages := []stage{
		{name: "fail", fn: func(m *Mudur) Outcome { return OutcomeRescue }},
		{name: "never", fn: func(m *Mudur) Outcome {
			t.Fatal("stage after rescue must not run")
			return OutcomeCompleted
		}},
	}

	assert.Equal(t, OutcomeRescue, m.runStages(stages))
	assert.Equal(t, 1, run.ran(suloginBin))
}

func TestGuestSkipsMarkedStages(t *testing.T) {
	run := newFakeRunner()
	m := newTestMudur(run)
	m.cfg.LXCGuest = true

	ran := []string{}
	stages := []stage{
		{name: "host_only", guestSkip: true, fn: func(m *Mudur) Outcome {
			ran = append(ran, "host_only")
			return OutcomeCompleted
		}},
		{name: "everywhere", fn: func(m *Mudur) Outcome {
			ran = append(ran, "everywhere")
			return OutcomeCompleted
		}},
	}

	assert.Equal(t, OutcomeCompleted, m.runStages(stages))
	assert.Equal(t, []string{"everywhere"}, ran)
}
