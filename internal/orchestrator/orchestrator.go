// Package orchestrator drives one Target through the full boot/setup/run
// lifecycle (§4.6): it is the component everything else in this module
// exists to serve.
package orchestrator

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/danobi/vmtest/internal/gaclient"
	"github.com/danobi/vmtest/internal/hostinfo"
	"github.com/danobi/vmtest/internal/initstage"
	"github.com/danobi/vmtest/internal/outstream"
	"github.com/danobi/vmtest/internal/qemuargs"
	"github.com/danobi/vmtest/internal/qmpclient"
	sysexec "github.com/danobi/vmtest/internal/system/exec"
	"github.com/danobi/vmtest/internal/sockname"
	"github.com/danobi/vmtest/internal/vmconfig"
)

// socketWaitDeadline and socketWaitStep bound the WaitingForSockets stage
// (§4.6.1): the hypervisor creates its listening sockets very soon after
// spawn, but not synchronously with fork/exec returning.
const (
	socketWaitDeadline = 5 * time.Second
	socketWaitStep     = 50 * time.Millisecond
)

// Run drives target through its full lifecycle, writing one Event at a
// time to events in the order described by §4.6.1. Run always closes
// events before returning. hostSharedDir is the host directory exported
// at the standard mount tag.
func Run(target vmconfig.Target, hostSharedDir string, events chan<- Event) {
	defer close(events)

	artifacts := &runArtifacts{}
	defer artifacts.cleanup()

	events <- evBootStart()

	hostArch := hostinfo.Arch()
	hasAccel := hostinfo.HasHardwareAccel()
	tmpDir := os.TempDir()

	sockets := sockname.NewGroup(tmpDir)
	artifacts.sockets = sockets

	var guestInitPath string
	if target.Kernel != "" {
		staged, err := initstage.Stage(tmpDir)
		if err != nil {
			events <- evBootEnd(errors.Wrap(err, "failed to stage guest init script"))
			return
		}
		artifacts.init = staged
		guestInitPath = staged.GuestPath
	}

	args, err := qemuargs.Build(qemuargs.BuildInput{
		Target:        target,
		HostSharedDir: hostSharedDir,
		GuestInitPath: guestInitPath,
		AgentSocket:   sockets.AgentSocket,
		ControlSocket: sockets.ControlSocket,
		CommandSocket: sockets.CommandSocket,
		HostArch:      hostArch,
		HasAccel:      hasAccel,
	})
	if err != nil {
		events <- evBootEnd(errors.Wrap(err, "failed to build hypervisor arguments"))
		return
	}

	binary := target.QemuCommand
	if binary == "" {
		arch := target.Arch
		if arch == "" {
			arch = hostArch
		}
		binary = "qemu-system-" + arch
	}

	child := sysexec.Command(binary, args...)
	stdout, err := child.StdoutPipe()
	if err != nil {
		events <- evBootEnd(errors.Wrap(err, "failed to open hypervisor stdout"))
		return
	}
	var stderrBuf syncBuffer
	child.Stderr = &stderrBuf

	if err := child.Start(); err != nil {
		events <- evBootEnd(errors.Wrap(err, "failed to spawn hypervisor"))
		return
	}
	artifacts.child = child

	outstream.Start(stdout, func(line string) { events <- evBoot(line) })

	if err := waitForSockets(sockets); err != nil {
		events <- evBootEnd(diagnosticErr(err, &stderrBuf))
		return
	}

	ctl, err := qmpclient.Dial(sockets.ControlSocket)
	if err != nil {
		events <- evBootEnd(diagnosticErr(err, &stderrBuf))
		return
	}
	defer ctl.Close()

	agent, err := gaclient.Dial(sockets.AgentSocket, hasAccel)
	if err != nil {
		events <- evBootEnd(diagnosticErr(err, &stderrBuf))
		return
	}
	defer agent.Close()

	events <- evBootEnd(nil)

	events <- evSetupStart()
	if err := mountAll(agent, target, func(line string) { events <- evSetup(line) }); err != nil {
		events <- evSetupEnd(err)
		return
	}
	events <- evSetupEnd(nil)

	events <- evCommandStart()

	if cmdConn, err := net.DialTimeout("unix", sockets.CommandSocket, socketWaitDeadline); err != nil {
		plog.Warningf("failed to connect to command-output socket: %v", err)
	} else {
		outstream.Start(cmdConn, func(line string) { events <- evCommand(line) })
	}

	shouldCD := target.Kernel != "" && target.Rootfs == "/"
	script, err := initstage.RenderCommandScript(initstage.CommandScriptData{
		ShouldCD:              shouldCD,
		HostShared:            hostSharedDir,
		Command:               target.Command,
		CommandOutputPortName: qemuargs.CommandOutputPort,
	})
	if err != nil {
		events <- evCommandEndErr(errors.Wrap(err, "failed to render command script"))
	} else {
		mode := gaclient.CaptureSeparate
		if agent.Version.AtLeast(8, 1) {
			mode = gaclient.CaptureMerged
		}

		var env []string
		if target.Kernel != "" {
			env = os.Environ()
		}

		code, err := runUserCommand(agent, script, env, mode, func(line string) { events <- evCommand(line) })
		if err != nil {
			events <- evCommandEndErr(err)
		} else {
			events <- evCommandEndOk(code)
		}
	}

	// Quitting (§4.6.1): best-effort, never surfaced as events.
	if _, err := runToCompletion(agent, "/bin/sync", nil, nil, gaclient.CaptureSeparate, func(string) {}); err != nil {
		plog.Warningf("failed to sync guest filesystems before shutdown: %v", err)
	}
	if err := ctl.Quit(); err != nil {
		plog.Warningf("control protocol quit failed: %v", err)
	} else if err := child.Wait(); err != nil {
		plog.Warningf("hypervisor exited with error: %v", err)
	}
}

func waitForSockets(sockets sockname.Group) error {
	deadline := time.Now().Add(socketWaitDeadline)
	for {
		if exists(sockets.ControlSocket) && exists(sockets.AgentSocket) {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("hypervisor sockets did not appear before timeout")
		}
		time.Sleep(socketWaitStep)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// diagnosticErr appends any hypervisor stderr captured so far to err, for
// the cases where a handshake failure is really a hypervisor startup
// failure (bad arguments, missing firmware, etc).
func diagnosticErr(err error, stderrBuf *syncBuffer) error {
	if s := stderrBuf.String(); s != "" {
		return errors.Wrapf(err, "hypervisor stderr: %s", s)
	}
	return err
}
