// Package hostinfo answers the two host-environment questions ArgBuilder
// and the Orchestrator need: the host's qemu-style architecture tag, and
// whether hardware virtualization acceleration is available.
package hostinfo

import (
	"os"
	"runtime"
)

// Arch returns the qemu-style architecture tag for the host, e.g.
// "x86_64" for amd64 and "aarch64" for arm64, matching the tags used in
// Target.Arch and hypervisor binary names (qemu-system-<arch>).
func Arch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

// kvmDevice is the hardware-virtualization character device checked for
// acceleration eligibility (§4.1).
const kvmDevice = "/dev/kvm"

// HasHardwareAccel reports whether a hardware-virtualization character
// device is present on the host.
func HasHardwareAccel() bool {
	_, err := os.Stat(kvmDevice)
	return err == nil
}
