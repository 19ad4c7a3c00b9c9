package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/danobi/vmtest/internal/gaclient"
	"github.com/danobi/vmtest/internal/qemuargs"
	"github.com/danobi/vmtest/internal/vmconfig"
)

// mountRetryAttempts and the linear backoff schedule below handle the
// case where the guest kernel's 9p transport isn't registered yet when
// the first mount(8) runs (exit code 32 is Linux's "wrong fs type / bad
// superblock" status, which 9p returns transiently right after module
// load) (§4.6.3, §7).
const mountRetryAttempts = 5

// mountShare is one guest-path/tag pair to bring up during Setup.
type mountShare struct {
	guestPath string
	tag       string
	readonly  bool
}

// mountAll runs the Setup stage's mkdir+mount sequence (§4.6.3): the
// standard shared-folder export is always mounted, plus, in image mode,
// one mount per entry in the target's vm.mounts map.
func mountAll(agent *gaclient.Client, t vmconfig.Target, onLine func(line string)) error {
	shares := []mountShare{
		{guestPath: qemuargs.SharedMountGuestPath, tag: qemuargs.SharedMountTag},
	}

	if t.Image != "" {
		guestPaths := make([]string, 0, len(t.VM.Mounts))
		for guestPath := range t.VM.Mounts {
			guestPaths = append(guestPaths, guestPath)
		}
		sort.Strings(guestPaths)

		for _, guestPath := range guestPaths {
			m := t.VM.Mounts[guestPath]
			shares = append(shares, mountShare{
				guestPath: guestPath,
				tag:       qemuargs.MountTag(m.HostPath),
				readonly:  !m.Writable,
			})
		}
	}

	for _, s := range shares {
		if err := mountOne(agent, s, onLine); err != nil {
			return err
		}
	}
	return nil
}

func mountOne(agent *gaclient.Client, s mountShare, onLine func(line string)) error {
	code, err := runToCompletion(agent, "/bin/mkdir", []string{"-p", s.guestPath}, nil, gaclient.CaptureSeparate, onLine)
	if err != nil {
		return errors.Wrapf(err, "failed to create mount point %s", s.guestPath)
	}
	if code != 0 {
		return errors.Errorf("mkdir -p %s exited %d", s.guestPath, code)
	}

	opts := qemuargs.MountOpts9p
	if s.readonly {
		opts += ",ro"
	}
	args := []string{"-t", "9p", "-o", opts, s.tag, s.guestPath}

	for attempt := 0; attempt < mountRetryAttempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * time.Second
			onLine(fmt.Sprintf("mount %s: transient failure, retrying in %s", s.guestPath, wait))
			time.Sleep(wait)
		}

		code, err := runToCompletion(agent, "/bin/mount", args, nil, gaclient.CaptureSeparate, onLine)
		if err != nil {
			return errors.Wrapf(err, "failed to mount %s", s.guestPath)
		}
		if code == 0 {
			return nil
		}
		if code != 32 {
			return errors.Errorf("mount %s exited %d", s.guestPath, code)
		}
	}

	return errors.Errorf("mount %s did not succeed after %d attempts", s.guestPath, mountRetryAttempts)
}
