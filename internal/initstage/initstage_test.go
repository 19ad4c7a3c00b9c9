package initstage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuestPathVectors(t *testing.T) {
	cases := []struct {
		hostTmp  string
		tempfile string
		want     string
	}{
		{"/tmp", "/foo/tmp/bar.sh", "/tmp/bar.sh"},
		{"/tmp/", "/foo/tmp/bar.sh", "/tmp/bar.sh"},
		{"/", "/foo/tmp/bar.sh", "/bar.sh"},
	}

	for _, c := range cases {
		got, err := GuestPath(c.hostTmp, c.tempfile)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestGuestPathRejectsRelativeHostTmp(t *testing.T) {
	_, err := GuestPath("tmp", "/foo/tmp/bar.sh")
	assert.Error(t, err)
}

func TestGuestPathRejectsNonSuffixMatch(t *testing.T) {
	_, err := GuestPath("/tmp", "/foo/var/bar.sh")
	assert.Error(t, err)
}

func TestStageAndRemove(t *testing.T) {
	dir := t.TempDir()
	staged, err := Stage(dir)
	require.NoError(t, err)
	defer staged.Remove()

	info, err := os.Stat(staged.HostPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "init script should be owner-executable")
	assert.True(t, filepath.Dir(staged.HostPath) == filepath.Clean(dir))

	staged.Remove()
	_, err = os.Stat(staged.HostPath)
	assert.True(t, os.IsNotExist(err))

	// Safe to call twice.
	staged.Remove()
}

func TestRenderCommandScript(t *testing.T) {
	out, err := RenderCommandScript(CommandScriptData{
		ShouldCD:              true,
		HostShared:            "/mnt/vmtest",
		Command:               "echo hi",
		CommandOutputPortName: "org.qemu.virtio_serial.0",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "/dev/virtio-ports/org.qemu.virtio_serial.0")
	assert.Contains(t, out, "cd /mnt/vmtest")
	assert.Contains(t, out, "echo hi")
}

func TestRenderCommandScriptNoCD(t *testing.T) {
	out, err := RenderCommandScript(CommandScriptData{
		ShouldCD:              false,
		HostShared:            "/mnt/vmtest",
		Command:               "echo hi",
		CommandOutputPortName: "org.qemu.virtio_serial.0",
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "cd ")
}

func TestRenderCommandScriptQuotesHostShared(t *testing.T) {
	out, err := RenderCommandScript(CommandScriptData{
		ShouldCD:              true,
		HostShared:            "/mnt/has space",
		Command:               "true",
		CommandOutputPortName: "org.qemu.virtio_serial.0",
	})
	require.NoError(t, err)
	assert.Contains(t, out, `'/mnt/has space'`)
}
