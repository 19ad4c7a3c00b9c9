// Package vmconfig holds the data model for a test matrix entry ("target")
// and the invariants that must hold before any hypervisor process is
// spawned on its behalf.
package vmconfig

import (
	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"
)

var plog = capnslog.NewPackageLogger("github.com/danobi/vmtest", "vmconfig")

// Mount describes one additional guest<-host directory export, only
// honored in image mode (§3).
type Mount struct {
	HostPath string `toml:"host_path"`
	Writable bool   `toml:"writable"`
}

// VM holds the hypervisor knobs that aren't mode-specific.
type VM struct {
	NumCPUs int `toml:"num_cpus"`
	// Memory is a hypervisor-parsable size string, e.g. "4G".
	Memory string `toml:"memory"`
	// Mounts maps a guest absolute path to its host-side source.
	Mounts map[string]Mount `toml:"mounts"`
	// ExtraArgs is passed through to the hypervisor verbatim, last.
	ExtraArgs []string `toml:"extra_args"`
}

// DefaultVM returns a VM struct with the spec's documented defaults
// applied (num_cpus=2, memory="4G").
func DefaultVM() VM {
	return VM{
		NumCPUs: 2,
		Memory:  "4G",
	}
}

// Target is one row of the test matrix: a VM configuration plus a command
// to run. It is immutable once validated and handed to the orchestrator.
type Target struct {
	Name string `toml:"name"`

	// Exactly one of Image/Kernel must be set (§3 XOR invariant).
	Image string `toml:"image"`
	Kernel string `toml:"kernel"`

	// KernelArgs is only meaningful when Kernel is set.
	KernelArgs string `toml:"kernel_args"`

	// Rootfs is the host directory exported as guest root in kernel mode.
	// Defaults to "/".
	Rootfs string `toml:"rootfs"`

	// Arch is the guest architecture tag; defaults to the host arch.
	Arch string `toml:"arch"`

	// Bios is an explicit firmware path override; requires Uefi.
	Bios string `toml:"bios"`
	Uefi bool   `toml:"uefi"`

	Command string `toml:"command"`

	// QemuCommand overrides the default "qemu-system-<arch>" binary name.
	QemuCommand string `toml:"qemu_command"`

	VM VM `toml:"vm"`
}

// Config is the full deserialized test matrix: a list of targets.
// Parsing the on-disk representation is an out-of-scope collaborator
// (§6); this type is what the core consumes.
type Config struct {
	Target []Target `toml:"target"`
}

// applyDefaults fills in documented defaults for fields a TOML decode
// leaves zero-valued, without touching fields the user set explicitly.
func applyDefaults(t *Target) {
	if t.Rootfs == "" {
		t.Rootfs = "/"
	}
	if t.VM.NumCPUs == 0 {
		t.VM.NumCPUs = 2
	}
	if t.VM.Memory == "" {
		t.VM.Memory = "4G"
	}
}

// Validate checks the invariants in §3 on a single target. It is the sole
// entry point for TargetValidator (§4.7): the first failure aborts the
// whole run with a message naming the target, before any process is
// spawned.
func Validate(t *Target) error {
	if t.Name == "" {
		return errors.New("target has empty name")
	}

	switch {
	case t.Image == "" && t.Kernel == "":
		return errors.Errorf("target %q must specify 'image' or 'kernel'", t.Name)
	case t.Image != "" && t.Kernel != "":
		return errors.Errorf("target %q specified both 'image' and 'kernel'", t.Name)
	}

	if t.Uefi && t.Image == "" {
		return errors.Errorf("target %q must specify 'image' with 'uefi'", t.Name)
	}

	if t.Bios != "" && !t.Uefi {
		return errors.Errorf("target %q cannot specify 'bios' without setting 'uefi'", t.Name)
	}

	if t.KernelArgs != "" && t.Kernel == "" {
		return errors.Errorf("target %q must specify 'kernel' with 'kernel_args'", t.Name)
	}

	if t.Command == "" {
		return errors.Errorf("target %q has empty command", t.Name)
	}

	for guestPath, m := range t.VM.Mounts {
		if guestPath == "" {
			return errors.Errorf("target %q has a mount with an empty guest path", t.Name)
		}
		if m.HostPath == "" {
			return errors.Errorf("target %q mount %q has empty host_path", t.Name, guestPath)
		}
	}

	return nil
}

// ValidateAll runs Validate over every target in the config, applying
// documented defaults first. First failure aborts and names the target.
func ValidateAll(cfg *Config) error {
	for i := range cfg.Target {
		applyDefaults(&cfg.Target[i])
		if err := Validate(&cfg.Target[i]); err != nil {
			plog.Errorf("target index=%d failed validation: %v", i, err)
			return errors.Wrapf(err, "invalid config")
		}
	}
	return nil
}
