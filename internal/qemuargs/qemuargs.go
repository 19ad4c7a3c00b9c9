// Package qemuargs is the ArgBuilder (§4.1): a pure translation from a
// validated Target to the token vector passed to the hypervisor binary.
// Nothing in this package spawns a process, and the only filesystem access
// is firmwareOverride's existence check on the firmware search list (uefi
// targets without an explicit bios). Given the same BuildInput and the same
// installed firmware files it always returns the same tokens, which is the
// determinism property §8 property 2 requires.
package qemuargs

import (
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/danobi/vmtest/internal/vmconfig"
)

// MountOpts9p are the 9p-over-virtio mount options documented in §6, also
// used guest-side by the Orchestrator's mount sequence (§4.6.3) so the
// kernel cmdline's rootflags and the guest mount(8) invocations agree.
const MountOpts9p = "trans=virtio,cache=loose,msize=1048576"

// SharedMountGuestPath and SharedMountTag are the well-known guest path
// and mount tag for the standard shared directory export (§6).
const (
	SharedMountGuestPath = "/mnt/vmtest"
	SharedMountTag       = "shared-mount"
	RootShareTag         = "/dev/root"
	CommandOutputPort    = "org.qemu.virtio_serial.0"
	guestAgentPort       = "org.qemu.guest_agent.0"
)

// firmwareSearchPath is the well-known, ordered list of OVMF locations
// probed when uefi=true and no explicit bios override is given (§6).
var firmwareSearchPath = []string{
	"/usr/share/edk2/ovmf/OVMF_CODE.fd",
	"/usr/share/OVMF/OVMF_CODE.fd",
	"/usr/share/edk2-ovmf/x64/OVMF_CODE.fd",
}

// hashTag hashes s with a non-cryptographic hash (§9: "any reasonable
// non-cryptographic hash... values need not match a specific algorithm,
// only be stable within a single run") and renders it as a short hex tag.
func hashTag(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}

// MountTag computes the mount tag ArgBuilder assigns to an additional
// image-mode share, so the Orchestrator's mount sequence (§4.6.3) can
// address the exact same tag without re-deriving the hash independently.
func MountTag(hostPath string) string {
	return "mount" + hashTag(hostPath)
}

// BuildInput is everything ArgBuilder needs that isn't already on Target:
// paths the Orchestrator allocated before spawning the hypervisor.
type BuildInput struct {
	Target vmconfig.Target

	// HostSharedDir is the host directory exported at SharedMountTag.
	HostSharedDir string

	// GuestInitPath is the guest-visible path of the materialized init
	// script (kernel mode only; see internal/initstage).
	GuestInitPath string

	AgentSocket   string
	ControlSocket string
	CommandSocket string

	// HostArch is the host's architecture tag, used to decide whether
	// hardware acceleration is available for this target's Arch.
	HostArch string

	// HasAccel reports whether a hardware-virtualization character
	// device (e.g. /dev/kvm) is present on the host.
	HasAccel bool
}

// firmwareOverride returns the explicit bios path if set, else probes
// firmwareSearchPath and returns the first existing entry, falling back to
// the first entry of the list if none exist (§4.1).
func firmwareOverride(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, p := range firmwareSearchPath {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return firmwareSearchPath[0]
}

// genericCPUModel picks a fallback -cpu value when acceleration isn't
// available or the guest arch differs from the host's.
func genericCPUModel(arch string) string {
	switch arch {
	case "aarch64", "arm64", "s390x":
		return "max"
	default:
		return "qemu64"
	}
}

// Build translates a validated Target (plus the paths the Orchestrator
// allocated for it) into the hypervisor's argument vector. Target must
// already have passed vmconfig.Validate.
func Build(in BuildInput) ([]string, error) {
	t := in.Target
	arch := t.Arch
	if arch == "" {
		arch = in.HostArch
	}

	var args []string
	add := func(toks ...string) { args = append(args, toks...) }

	add("-nodefaults")
	add("-display", "none")
	add("-serial", "stdio")

	// Control-plane protocol socket (QMP).
	add("-qmp", fmt.Sprintf("unix:%s,server=on,wait=off", in.ControlSocket))

	// Guest-agent protocol socket, over its own virtio-serial port.
	add("-device", "virtio-serial")
	add("-chardev", fmt.Sprintf("socket,path=%s,server=on,wait=off,id=qga0", in.AgentSocket))
	add("-device", fmt.Sprintf("virtserialport,chardev=qga0,name=%s", guestAgentPort))

	// Data-plane command-output virtio-serial port.
	add("-chardev", fmt.Sprintf("socket,path=%s,server=on,wait=off,id=cmdout0", in.CommandSocket))
	add("-device", fmt.Sprintf("virtserialport,chardev=cmdout0,name=%s", CommandOutputPort))

	// Standard shared-folder export.
	add(defaultShareTransport.exportArgs(in.HostSharedDir, "fsshared", SharedMountTag, false)...)

	switch {
	case t.Image != "":
		diskID := "disk" + hashTag(t.Image)
		add("-drive", fmt.Sprintf(
			"file=%s,format=raw,if=virtio,index=1,media=disk,cache=none,id=%s,bootindex=1",
			t.Image, diskID))

		if t.Uefi {
			add("-bios", firmwareOverride(t.Bios))
		}

		guestPaths := make([]string, 0, len(t.VM.Mounts))
		for guestPath := range t.VM.Mounts {
			guestPaths = append(guestPaths, guestPath)
		}
		sort.Strings(guestPaths)

		for _, guestPath := range guestPaths {
			m := t.VM.Mounts[guestPath]
			tag := "mount" + hashTag(m.HostPath)
			add(defaultShareTransport.exportArgs(m.HostPath, "fs"+tag, tag, !m.Writable)...)
		}

	case t.Kernel != "":
		add("-virtfs", fmt.Sprintf(
			"local,id=fsroot,path=%s,mount_tag=%s,security_model=none,multidevs=remap",
			t.Rootfs, RootShareTag))

		add("-kernel", t.Kernel)
		add("-no-reboot")
		add("-append", kernelCmdline(arch, in.GuestInitPath, t.KernelArgs))

	default:
		return nil, errors.New("target has neither image nor kernel set")
	}

	if arch == in.HostArch && in.HasAccel {
		add("-enable-kvm")
		add("-cpu", "host")
	} else {
		add("-cpu", genericCPUModel(arch))
	}

	if arch == "aarch64" || arch == "arm64" {
		add("-machine", "virt,gic-version=3")
	}

	add("-smp", strconv.Itoa(t.VM.NumCPUs))
	add("-m", t.VM.Memory)

	add(t.VM.ExtraArgs...)

	return args, nil
}

// earlyConsole returns the kernel cmdline console= token for arch,
// selecting the device per §4.1.
func earlyConsole(arch string) string {
	if arch == "aarch64" || arch == "arm64" {
		return "console=ttyAMA0,115200"
	}
	return "console=ttyS0,115200"
}

// kernelCmdline builds the guest kernel command line for kernel-mode
// targets (§4.1), appending the user's kernel_args verbatim at the end.
func kernelCmdline(arch, guestInitPath, kernelArgs string) string {
	toks := []string{
		"rootfstype=9p",
		fmt.Sprintf("rootflags=%s", MountOpts9p),
		"rw",
		earlyConsole(arch),
		"printk.devkmsg=on",
		"loglevel=7",
		"raid=noautodetect",
		fmt.Sprintf("init=%s", guestInitPath),
		"panic=-1",
	}

	if strings.TrimSpace(kernelArgs) != "" {
		extra, err := shellquote.Split(kernelArgs)
		if err != nil {
			// kernel_args isn't shell-escaped in the config; fall back to
			// whitespace splitting rather than failing the whole build.
			extra = strings.Fields(kernelArgs)
		}
		toks = append(toks, extra...)
	}

	return strings.Join(toks, " ")
}
