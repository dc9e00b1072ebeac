package mudur

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMounter struct {
	mountpoints map[string]bool
	mounts      []string
	created     []string
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{mountpoints: make(map[string]bool)}
}

func (f *fakeMounter) isMountPoint(path string) bool {
	return f.mountpoints[path]
}

func (f *fakeMounter) mount(source, target, fstype string, flags uintptr, data string) error {
	f.mounts = append(f.mounts, target)
	f.mountpoints[target] = true
	return nil
}

func (f *fakeMounter) mkdirAll(path string, perm os.FileMode) error {
	f.created = append(f.created, path)
	return nil
}

const sampleProcCgroups = `#subsys_name	hierarchy	num_cgroups	enabled
cpuset	1	1	1
cpu	2	1	1
freezer	3	1	0
memory	4	1	1
`

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testCgroupfs(t *testing.T) (*cgroupfs, *fakeMounter, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "cgroup")
	require.NoError(t, os.Mkdir(root, 0755))

	mnt := newFakeMounter()
	c := &cgroupfs{
		fstabPath:   writeTempFile(t, dir, "fstab", "/dev/sda1 / ext4 defaults 0 1\n"),
		procCgroups: writeTempFile(t, dir, "cgroups", sampleProcCgroups),
		root:        root,
		mnt:         mnt,
		warn:        func(string) {},
	}
	return c, mnt, dir
}

func bootstrapCode(t *testing.T, err error) int {
	t.Helper()
	var be *bootstrapError
	require.ErrorAs(t, err, &be)
	return be.code
}

func TestCgroupSetupRejectsFstabMount(t *testing.T) {
	c, _, dir := testCgroupfs(t)
	c.fstabPath = writeTempFile(t, dir, "fstab2",
		"cgroup /sys/fs/cgroup cgroup defaults 0 0\n")

	assert.Equal(t, exitCgroupFstab, bootstrapCode(t, c.setup()))
}

func TestCgroupSetupRejectsMissingKernelSupport(t *testing.T) {
	c, _, dir := testCgroupfs(t)
	c.procCgroups = filepath.Join(dir, "does-not-exist")

	assert.Equal(t, exitCgroupKernel, bootstrapCode(t, c.setup()))
}

func TestCgroupSetupRejectsMissingRoot(t *testing.T) {
	c, _, dir := testCgroupfs(t)
	c.root = filepath.Join(dir, "no-such-dir")

	assert.Equal(t, exitCgroupSysfs, bootstrapCode(t, c.setup()))
}

func TestCgroupSetupMountsEnabledControllers(t *testing.T) {
	c, mnt, _ := testCgroupfs(t)

	require.NoError(t, c.setup())

	// tmpfs root plus the three enabled controllers, freezer skipped
	assert.Len(t, mnt.mounts, 4)
	assert.Contains(t, mnt.mounts, filepath.Join(c.root, "cpuset"))
	assert.Contains(t, mnt.mounts, filepath.Join(c.root, "memory"))
	assert.NotContains(t, mnt.mounts, filepath.Join(c.root, "freezer"))
}

func TestCgroupMountControllersIsIdempotent(t *testing.T) {
	c, _, _ := testCgroupfs(t)

	controllers, err := c.findControllers()
	require.NoError(t, err)

	assert.Equal(t, 3, c.mountControllers(controllers))
	assert.Equal(t, 0, c.mountControllers(controllers))
}

func TestFindControllers(t *testing.T) {
	c, _, _ := testCgroupfs(t)

	controllers, err := c.findControllers()
	require.NoError(t, err)
	require.Len(t, controllers, 4)

	assert.Equal(t, "cpuset", controllers[0].name)
	assert.True(t, controllers[0].enabled)
	assert.Equal(t, "freezer", controllers[2].name)
	assert.False(t, controllers[2].enabled)
}
