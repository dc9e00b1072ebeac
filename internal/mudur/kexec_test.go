package mudur

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrubOnceInhibited(t *testing.T) {
	assert.False(t, grubOnceInhibited(""))
	assert.False(t, grubOnceInhibited("0"))
	assert.False(t, grubOnceInhibited("2"))
	assert.True(t, grubOnceInhibited("16384"))
	assert.True(t, grubOnceInhibited("16386\n"))
}

func TestResolveKexecImagesPrefersLatest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "latest-kernel"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "latest-initramfs"), nil, 0644))

	kernel, initramfs := resolveKexecImages(dir, "6.1.0")
	assert.Equal(t, filepath.Join(dir, "latest-kernel"), kernel)
	assert.Equal(t, filepath.Join(dir, "latest-initramfs"), initramfs)
}

func TestResolveKexecImagesFallsBackToVersion(t *testing.T) {
	dir := t.TempDir()

	kernel, initramfs := resolveKexecImages(dir, "6.1.0")
	assert.Equal(t, filepath.Join(dir, "kernel-6.1.0"), kernel)
	assert.Equal(t, filepath.Join(dir, "initramfs-6.1.0"), initramfs)
}

func TestResolveKexecImagesMixed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "latest-kernel"), nil, 0644))

	kernel, initramfs := resolveKexecImages(dir, "6.1.0")
	assert.Equal(t, filepath.Join(dir, "latest-kernel"), kernel)
	assert.Equal(t, filepath.Join(dir, "initramfs-6.1.0"), initramfs)
}

func TestResolveKexecImagesAppendsVariantSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "latest-kernel"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "latest-initramfs"), nil, 0644))

	kernel, initramfs := resolveKexecImages(dir, "6.1.0-pae")
	assert.Equal(t, filepath.Join(dir, "latest-kernel-pae"), kernel)
	assert.Equal(t, filepath.Join(dir, "latest-initramfs-pae"), initramfs)
}

func TestLoadKexecImageSkipsGuests(t *testing.T) {
	run := newFakeRunner()
	m := newTestMudur(run)
	m.cfg.LXCGuest = true
	m.runlevel = RunlevelReboot

	assert.False(t, m.loadKexecImage())
	assert.Empty(t, run.calls)
}
