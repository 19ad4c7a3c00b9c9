package qemuargs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danobi/vmtest/internal/vmconfig"
)

func baseInput() BuildInput {
	return BuildInput{
		Target: vmconfig.Target{
			Name:  "t",
			Image: "/data/disk.img",
			VM:    vmconfig.DefaultVM(),
		},
		HostSharedDir: "/tmp/shared",
		AgentSocket:   "/tmp/qga-1.sock",
		ControlSocket: "/tmp/qmp-1.sock",
		CommandSocket: "/tmp/cmdout-1.sock",
		HostArch:      "x86_64",
		HasAccel:      false,
	}
}

func TestBuildDeterministic(t *testing.T) {
	in := baseInput()
	a, err := Build(in)
	require.NoError(t, err)
	b, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildRequiresImageOrKernel(t *testing.T) {
	in := baseInput()
	in.Target.Image = ""
	_, err := Build(in)
	assert.Error(t, err)
}

func TestBuildImageModeNoKernelArgs(t *testing.T) {
	in := baseInput()
	args, err := Build(in)
	require.NoError(t, err)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-drive")
	assert.NotContains(t, joined, "-kernel")
	assert.NotContains(t, joined, "-append")
}

func TestBuildKernelModeAppendsKernelArgs(t *testing.T) {
	in := baseInput()
	in.Target.Image = ""
	in.Target.Kernel = "/boot/vmlinuz"
	in.Target.Rootfs = "/"
	in.Target.KernelArgs = "debug loglevel=8"
	in.GuestInitPath = "/tmp/vmtest-initXYZ.sh"

	args, err := Build(in)
	require.NoError(t, err)

	var appendVal string
	for i, a := range args {
		if a == "-append" {
			appendVal = args[i+1]
		}
	}
	require.NotEmpty(t, appendVal)
	assert.Contains(t, appendVal, "debug")
	assert.Contains(t, appendVal, "loglevel=8")
	assert.Contains(t, appendVal, "init=/tmp/vmtest-initXYZ.sh")
	assert.Contains(t, appendVal, "panic=-1 debug loglevel=8")
	assert.True(t, strings.HasSuffix(appendVal, "loglevel=8"))
}

func TestMountTagStable(t *testing.T) {
	a := MountTag("/host/data")
	b := MountTag("/host/data")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, MountTag("/host/other"))
}

func TestBuildUsesAccelWhenArchMatchesHost(t *testing.T) {
	in := baseInput()
	in.HasAccel = true
	args, err := Build(in)
	require.NoError(t, err)
	assert.Contains(t, args, "-enable-kvm")
}

func TestBuildNoAccelForForeignArch(t *testing.T) {
	in := baseInput()
	in.HasAccel = true
	in.Target.Arch = "aarch64"
	args, err := Build(in)
	require.NoError(t, err)
	assert.NotContains(t, args, "-enable-kvm")
	assert.Contains(t, args, "-machine")
}

func TestBuildImageModeAdditionalMounts(t *testing.T) {
	in := baseInput()
	in.Target.VM.Mounts = map[string]vmconfig.Mount{
		"/mnt/data": {HostPath: "/host/data", Writable: false},
	}
	args, err := Build(in)
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	tag := MountTag("/host/data")
	assert.Contains(t, joined, tag)
	assert.Contains(t, joined, "readonly=on")
}

func TestBuildMultipleMountsOrderIsStable(t *testing.T) {
	in := baseInput()
	in.Target.VM.Mounts = map[string]vmconfig.Mount{
		"/mnt/zzz": {HostPath: "/host/zzz", Writable: true},
		"/mnt/aaa": {HostPath: "/host/aaa", Writable: true},
		"/mnt/mmm": {HostPath: "/host/mmm", Writable: false},
	}

	first, err := Build(in)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := Build(in)
		require.NoError(t, err)
		require.Equal(t, first, again, "Build must emit the same token vector on every call for a fixed Target (§8 property 2), regardless of map iteration order")
	}
}
