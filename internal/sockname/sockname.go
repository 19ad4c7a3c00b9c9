// Package sockname generates unique filesystem paths for the unix domain
// sockets a single VM run needs (§4.1 SocketNamer).
package sockname

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"

	"github.com/coreos/pkg/capnslog"
	"github.com/google/uuid"
)

var plog = capnslog.NewPackageLogger("github.com/danobi/vmtest", "sockname")

// sixDigitID derives a stable-looking 6-digit decimal id from a fresh
// UUID's entropy, matching the on-disk naming scheme in §6
// ("qga-<6-digit-id>.sock" etc).
func sixDigitID() int {
	id := uuid.New()
	n := binary.BigEndian.Uint32(id[:4])
	return int(n%900_000) + 100_000
}

// New generates a path under dir named "<prefix>-<6-digit-id>.sock". Each
// call mints a fresh UUID for the id, so two calls usually get different
// ids; the ids themselves are not checked for uniqueness.
func New(dir, prefix string) string {
	return filepath.Join(dir, prefix+"-"+strconv.Itoa(sixDigitID())+".sock")
}

// Group is the set of three sockets a single orchestrator run owns
// (control, guest-agent, command-output), named per §6.
type Group struct {
	AgentSocket   string
	ControlSocket string
	CommandSocket string
}

// NewGroup allocates a fresh, non-colliding set of socket paths under dir
// (normally os.TempDir()).
func NewGroup(dir string) Group {
	return Group{
		AgentSocket:   New(dir, "qga"),
		ControlSocket: New(dir, "qmp"),
		CommandSocket: New(dir, "cmdout"),
	}
}

// RemoveAll unlinks all three socket paths, ignoring "does not exist"
// errors. This is the filesystem half of RunArtifacts' drop discipline
// (§3, §5): sockets are removed whether or not the run succeeded.
func (g Group) RemoveAll() {
	for _, p := range []string{g.AgentSocket, g.ControlSocket, g.CommandSocket} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			plog.Warningf("failed to remove socket %s: %v", p, err)
		}
	}
}
