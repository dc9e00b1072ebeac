package mudur

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleFstab = `# /etc/fstab
/dev/sda1  /      ext4  defaults       0 1
/dev/sda2  /home  ext4  defaults       0 2
fileserver:/srv  /mnt/srv  nfs  rw  0 0
none  /proc  proc  defaults  0 0
`

func TestParseMountTable(t *testing.T) {
	entries := parseMountTable(strings.NewReader(sampleFstab))
	assert.Len(t, entries, 4)

	root := entries[0]
	assert.Equal(t, "/dev/sda1", root.device)
	assert.Equal(t, "/", root.mountpoint)
	assert.Equal(t, "ext4", root.fstype)
	assert.Equal(t, []string{"defaults"}, root.options)
	assert.Equal(t, 1, root.passno)
}

func TestParseMountEntrySkipsJunk(t *testing.T) {
	_, ok := parseMountEntry("# comment line")
	assert.False(t, ok)

	_, ok = parseMountEntry("too few fields")
	assert.False(t, ok)
}

func TestFstabEntry(t *testing.T) {
	m := newTestMudur(newFakeRunner())
	m.setFstab(parseMountTable(strings.NewReader(sampleFstab)))

	e := m.fstabEntry("/home")
	if assert.NotNil(t, e) {
		assert.Equal(t, "/dev/sda2", e.device)
	}
	assert.Nil(t, m.fstabEntry("/var"))
}

func TestContainsRemoteMounts(t *testing.T) {
	entries := parseMountTable(strings.NewReader(sampleFstab))
	assert.True(t, containsRemoteMounts(entries))

	local := []mountEntry{
		{device: "/dev/sda1", mountpoint: "/", fstype: "ext4"},
	}
	assert.False(t, containsRemoteMounts(local))
}
