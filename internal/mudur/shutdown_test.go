package mudur

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownMountsOrderAndFilter(t *testing.T) {
	entries := []mountEntry{
		{device: "/dev/sda1", mountpoint: "/", fstype: "ext4"},
		{device: "proc", mountpoint: "/proc", fstype: "proc"},
		{device: "tmpfs", mountpoint: "/run", fstype: "tmpfs"},
		{device: "/dev/sdb1", mountpoint: "/data", fstype: "ext4"},
		{device: "/dev/sdb2", mountpoint: "/data/nested", fstype: "xfs"},
		{device: "/dev/sdc1", mountpoint: "/mnt", fstype: "ext4"},
		{device: "none", mountpoint: "/weird", fstype: "ext4"},
	}

	picked := shutdownMounts(entries)

	var order []string
	for _, e := range picked {
		order = append(order, e.mountpoint)
	}
	// deepest first so /data/nested unmounts before /data; root,
	// virtual filesystems and device "none" never appear
	assert.Equal(t, []string{"/data/nested", "/data", "/mnt"}, order)
}

func TestRemountRootReadOnlyFirstTry(t *testing.T) {
	run := newFakeRunner()
	m := newTestMudur(run)

	killed := 0
	m.killAll = func() { killed++ }

	assert.True(t, m.remountRootReadOnly("/"))
	assert.Equal(t, 1, run.ran(mountBin))
	assert.Zero(t, killed)
}

func TestRemountRootReadOnlyForcedUnmountAvoidsKill(t *testing.T) {
	run := newFakeRunner()
	run.status[mountBin] = 32
	m := newTestMudur(run)

	killed := 0
	m.killAll = func() { killed++ }

	assert.True(t, m.remountRootReadOnly("/"))
	// two remount attempts, then the lazy unmount succeeds
	assert.Equal(t, 2, run.ran(mountBin))
	assert.Equal(t, 1, run.ran(umountBin))
	assert.Zero(t, killed)
}

func TestRemountRootReadOnlyKillsExactlyOnce(t *testing.T) {
	run := newFakeRunner()
	run.status[mountBin] = 32
	run.status[umountBin] = 32
	m := newTestMudur(run)

	killed := 0
	m.killAll = func() { killed++ }

	assert.False(t, m.remountRootReadOnly("/"))
	assert.Equal(t, 1, killed)
	assert.Equal(t, 2, run.ran(mountBin))
	assert.Equal(t, 1, run.ran(umountBin))
}

func TestRootMountpointSkipsRootfsPlaceholder(t *testing.T) {
	entries := []mountEntry{
		{device: "rootfs", mountpoint: "/", fstype: "rootfs"},
		{device: "/dev/sda1", mountpoint: "/", fstype: "ext4"},
	}
	assert.Equal(t, "/", rootMountpoint(entries))
	assert.Equal(t, "/", rootMountpoint(nil))
}
