package qemuargs

import "fmt"

// shareTransport abstracts how a host directory is exported into the
// guest. The only implementation today is 9p-over-virtio; a vhost-user
// (virtiofsd) transport is a plausible second implementation this seam
// exists for, but is not wired up (§9 Open Question).
type shareTransport interface {
	exportArgs(hostPath, chardevID, mountTag string, readonly bool) []string
}

var defaultShareTransport shareTransport = virtio9pTransport{}

// virtio9pTransport exports a host directory with qemu's built-in 9p
// filesystem passthrough (-virtfs local,...).
type virtio9pTransport struct{}

func (virtio9pTransport) exportArgs(hostPath, chardevID, mountTag string, readonly bool) []string {
	opts := "security_model=none,multidevs=remap"
	if readonly {
		opts += ",readonly=on"
	}
	return []string{"-virtfs", fmt.Sprintf(
		"local,id=%s,path=%s,mount_tag=%s,%s", chardevID, hostPath, mountTag, opts)}
}
