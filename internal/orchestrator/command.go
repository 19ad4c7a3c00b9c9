package orchestrator

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/danobi/vmtest/internal/gaclient"
)

// exec-status polling backoff (§4.6.2, §5): starts fast, doubles up to a
// 5s cap, and logs once if a single command has been polling for more
// than 30s cumulative without exiting (polling continues regardless).
const (
	pollInitial     = 200 * time.Millisecond
	pollMax         = 5 * time.Second
	pollWarnAfter   = 30 * time.Second
)

// clampExitCode narrows the guest agent's exit code (an arbitrary
// integer on the wire) to the signed 32-bit range of a native process
// exit status. In practice guest
// exit codes are always 0-255; the clamp exists only to make the
// conversion total (§9 Open Question: exit codes are clamped, not
// rejected, when they fall outside the native width).
func clampExitCode(code int) int {
	if code > math.MaxInt32 {
		return math.MaxInt32
	}
	if code < math.MinInt32 {
		return math.MinInt32
	}
	return code
}

// runToCompletion submits path/args/env to the guest agent and polls
// guest-exec-status until the process exits, invoking onLine with each
// newly available stdout line (in order), then each newly available
// stderr line, as they arrive. It returns the clamped exit code.
func runToCompletion(agent *gaclient.Client, path string, args, env []string, mode gaclient.CaptureMode, onLine func(line string)) (int, error) {
	handle, err := agent.Exec(path, args, env, mode)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to start guest command %q", path)
	}

	var out, errAcc lineAccumulator
	interval := pollInitial
	elapsed := time.Duration(0)
	warned := false

	for {
		time.Sleep(interval)
		elapsed += interval

		status, err := agent.ExecStatus(handle.PID)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to poll guest command %q", path)
		}

		for _, line := range out.feed(status.OutData) {
			onLine(line)
		}
		for _, line := range errAcc.feed(status.ErrData) {
			onLine(line)
		}

		if status.Exited {
			for _, line := range out.flush() {
				onLine(line)
			}
			for _, line := range errAcc.flush() {
				onLine(line)
			}
			return clampExitCode(status.ExitCode), nil
		}

		if !warned && elapsed > pollWarnAfter {
			plog.Warningf("guest command %q has been running for over %s", path, pollWarnAfter)
			warned = true
		}

		interval *= 2
		if interval > pollMax {
			interval = pollMax
		}
	}
}

// runUserCommand executes the rendered command script for the Running
// stage. Unlike runToCompletion's mid-stage callers (mkdir/mount/sync),
// the script's own stdout/stderr have been redirected into the
// command-output virtio-serial port by the init-staged template, so
// real-time output reaches events via the command streamer attached to
// that socket, not via onLine here. onLine is still invoked with any
// residual out-data/err-data guest-exec-status reports, to cover guest
// agents or shells that don't fully honor the redirect.
func runUserCommand(agent *gaclient.Client, script string, env []string, mode gaclient.CaptureMode, onLine func(line string)) (int, error) {
	return runToCompletion(agent, "/bin/bash", []string{"-c", script}, env, mode, onLine)
}
