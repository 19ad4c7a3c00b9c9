package vmconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTarget() Target {
	return Target{
		Name:    "basic",
		Image:   "/data/disk.img",
		Command: "true",
	}
}

func TestValidateAcceptsMinimalTarget(t *testing.T) {
	tgt := validTarget()
	assert.NoError(t, Validate(&tgt))
}

func TestValidateRejectsEmptyName(t *testing.T) {
	tgt := validTarget()
	tgt.Name = ""
	assert.Error(t, Validate(&tgt))
}

func TestValidateRejectsNeitherImageNorKernel(t *testing.T) {
	tgt := validTarget()
	tgt.Image = ""
	assert.Error(t, Validate(&tgt))
}

func TestValidateRejectsBothImageAndKernel(t *testing.T) {
	tgt := validTarget()
	tgt.Kernel = "/boot/vmlinuz"
	assert.Error(t, Validate(&tgt))
}

func TestValidateRejectsUefiWithoutImage(t *testing.T) {
	tgt := validTarget()
	tgt.Image = ""
	tgt.Kernel = "/boot/vmlinuz"
	tgt.Uefi = true
	assert.Error(t, Validate(&tgt))
}

func TestValidateRejectsBiosWithoutUefi(t *testing.T) {
	tgt := validTarget()
	tgt.Bios = "/usr/share/OVMF/OVMF_CODE.fd"
	assert.Error(t, Validate(&tgt))
}

func TestValidateAllowsBiosWithUefi(t *testing.T) {
	tgt := validTarget()
	tgt.Uefi = true
	tgt.Bios = "/usr/share/OVMF/OVMF_CODE.fd"
	assert.NoError(t, Validate(&tgt))
}

func TestValidateRejectsKernelArgsWithoutKernel(t *testing.T) {
	tgt := validTarget()
	tgt.KernelArgs = "debug"
	assert.Error(t, Validate(&tgt))
}

func TestValidateRejectsEmptyCommand(t *testing.T) {
	tgt := validTarget()
	tgt.Command = ""
	assert.Error(t, Validate(&tgt))
}

func TestValidateRejectsMountWithEmptyHostPath(t *testing.T) {
	tgt := validTarget()
	tgt.VM.Mounts = map[string]Mount{
		"/mnt/data": {HostPath: ""},
	}
	assert.Error(t, Validate(&tgt))
}

func TestValidateAllStopsAtFirstFailure(t *testing.T) {
	cfg := &Config{
		Target: []Target{
			validTarget(),
			{Name: "broken", Command: "true"}, // neither image nor kernel
		},
	}
	err := ValidateAll(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestApplyDefaultsViaValidateAll(t *testing.T) {
	cfg := &Config{Target: []Target{validTarget()}}
	require.NoError(t, ValidateAll(cfg))
	assert.Equal(t, "/", cfg.Target[0].Rootfs)
	assert.Equal(t, 2, cfg.Target[0].VM.NumCPUs)
	assert.Equal(t, "4G", cfg.Target[0].VM.Memory)
}
