// Package runner is the Runner (§4.8): the façade that resolves a parsed
// Config's relative paths against a base directory and drives one target
// at a time through the Orchestrator.
package runner

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/danobi/vmtest/internal/orchestrator"
	"github.com/danobi/vmtest/internal/vmconfig"
)

// Output re-exports the orchestrator's event type under the name callers
// of this package interact with.
type Output = orchestrator.Event

// Runner owns a validated, path-resolved test matrix.
type Runner struct {
	baseDir string
	targets []vmconfig.Target
}

// New validates cfg and resolves every target's host-side relative paths
// (image, kernel, rootfs, vm.mounts host_path, bios) against baseDir,
// which is normally the directory containing the config file. Paths that
// are already absolute are left untouched.
func New(cfg vmconfig.Config, baseDir string) (*Runner, error) {
	if err := vmconfig.ValidateAll(&cfg); err != nil {
		return nil, err
	}

	targets := make([]vmconfig.Target, len(cfg.Target))
	for i, t := range cfg.Target {
		targets[i] = resolvePaths(t, baseDir)
	}

	return &Runner{baseDir: baseDir, targets: targets}, nil
}

func resolvePaths(t vmconfig.Target, baseDir string) vmconfig.Target {
	t.Image = resolveOne(t.Image, baseDir)
	t.Kernel = resolveOne(t.Kernel, baseDir)
	t.Bios = resolveOne(t.Bios, baseDir)
	if t.Rootfs != "/" {
		t.Rootfs = resolveOne(t.Rootfs, baseDir)
	}

	if len(t.VM.Mounts) > 0 {
		resolved := make(map[string]vmconfig.Mount, len(t.VM.Mounts))
		for guestPath, m := range t.VM.Mounts {
			m.HostPath = resolveOne(m.HostPath, baseDir)
			resolved[guestPath] = m
		}
		t.VM.Mounts = resolved
	}

	return t
}

func resolveOne(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Targets returns a read-only view of the resolved test matrix.
func (r *Runner) Targets() []vmconfig.Target {
	out := make([]vmconfig.Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// RunOne drives the target at idx through the Orchestrator, writing
// events to updates until the run concludes (updates is closed by the
// time RunOne returns). An out-of-range idx (§8 scenario S7) is reported
// as a single BootEnd(Err) with nothing spawned.
func (r *Runner) RunOne(idx int, updates chan orchestrator.Event) {
	if idx < 0 || idx >= len(r.targets) {
		defer close(updates)
		updates <- orchestrator.Event{
			Kind: orchestrator.BootEnd,
			Err:  errors.Errorf("target index %d out of range (have %d targets)", idx, len(r.targets)),
		}
		return
	}

	hostSharedDir := r.baseDir
	orchestrator.Run(r.targets[idx], hostSharedDir, updates)
}
