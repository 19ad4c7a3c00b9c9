// Package initstage materializes the guest init script on the host such
// that a chosen path is valid both on host and guest (§4.2 InitStager), and
// renders the command template the Orchestrator hands to the guest agent
// (§4.6.2).
package initstage

import (
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/coreos/pkg/capnslog"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
)

var plog = capnslog.NewPackageLogger("github.com/danobi/vmtest", "initstage")

//go:embed assets/init.sh
var initScript []byte

//go:embed assets/command.sh.tmpl
var commandTemplateSrc string

var commandTemplate = template.Must(template.New("command").Parse(commandTemplateSrc))

// Staged is a materialized init script: its path on the host (where the
// orchestrator watches it / cleans it up) and its path as it will resolve
// inside the guest, once the host rootfs is exported as guest root.
type Staged struct {
	HostPath  string
	GuestPath string

	file *os.File
}

// Stage writes the embedded init script to a fresh tempfile under hostTmp
// (normally os.TempDir()), matching the "vmtest-init*.sh" glob documented
// in §6, sets the owner-executable bit, and computes the guest-visible
// path per GuestPath.
func Stage(hostTmp string) (*Staged, error) {
	f, err := os.CreateTemp(hostTmp, "vmtest-init*.sh")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create init tempfile")
	}

	if _, err := f.Write(initScript); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, errors.Wrap(err, "failed to write init script")
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, errors.Wrap(err, "failed to close init tempfile")
	}
	if err := os.Chmod(f.Name(), 0o755); err != nil {
		os.Remove(f.Name())
		return nil, errors.Wrap(err, "failed to set executable bit on init tempfile")
	}

	guestPath, err := GuestPath(hostTmp, f.Name())
	if err != nil {
		os.Remove(f.Name())
		return nil, err
	}

	return &Staged{HostPath: f.Name(), GuestPath: guestPath, file: f}, nil
}

// Remove unlinks the materialized init tempfile. Safe to call more than
// once and safe to call on a nil/zero Staged.
func (s *Staged) Remove() {
	if s == nil || s.HostPath == "" {
		return
	}
	if err := os.Remove(s.HostPath); err != nil && !os.IsNotExist(err) {
		plog.Warningf("failed to remove init tempfile %s: %v", s.HostPath, err)
	}
}

// GuestPath computes the path at which tempfilePath will be visible
// *inside the guest*, given that the host root filesystem is exported as
// guest root (kernel mode, default rootfs="/").
//
// It requires hostTmp to be absolute and to be a path-suffix of
// tempfilePath's parent directory; the guest path is then hostTmp with
// tempfilePath's base name appended. This holds regardless of whatever
// host-specific prefix precedes hostTmp in the tempfile's real parent
// (e.g. a sandboxed TMPDIR), because the guest and host share the same
// root and will therefore resolve hostTmp identically on both sides.
//
// Test vectors (see §4.2, §8.6):
//
//	GuestPath("/tmp",  "/foo/tmp/bar.sh") == "/tmp/bar.sh"
//	GuestPath("/tmp/", "/foo/tmp/bar.sh") == "/tmp/bar.sh"
//	GuestPath("/",     "/foo/tmp/bar.sh") == "/bar.sh"
func GuestPath(hostTmp, tempfilePath string) (string, error) {
	if !filepath.IsAbs(hostTmp) {
		return "", errors.Errorf("host tmp dir %q must be absolute", hostTmp)
	}

	cleanTmp := filepath.Clean(hostTmp)
	parent := filepath.Dir(filepath.Clean(tempfilePath))

	if cleanTmp != "/" && !strings.HasSuffix(parent, cleanTmp) {
		return "", errors.Errorf(
			"host tmp dir %q is not a suffix of tempfile parent %q", hostTmp, parent)
	}

	return filepath.Join(cleanTmp, filepath.Base(tempfilePath)), nil
}

// CommandScriptData holds the four substitution variables documented in
// §4.6.2 for the command template.
type CommandScriptData struct {
	ShouldCD              bool
	HostShared            string
	Command               string
	CommandOutputPortName string
}

// RenderCommandScript fills in the command template, shell-quoting the
// host-shared directory so a path containing spaces or shell metacharacters
// doesn't break the generated `cd`.
func RenderCommandScript(data CommandScriptData) (string, error) {
	quoted := data
	quoted.HostShared = shellquote.Join(data.HostShared)

	var sb strings.Builder
	if err := commandTemplate.Execute(&sb, quoted); err != nil {
		return "", errors.Wrap(err, "failed to render command script")
	}
	return sb.String(), nil
}
