package orchestrator

import (
	"bytes"
	"sync"

	"github.com/coreos/pkg/capnslog"

	"github.com/danobi/vmtest/internal/initstage"
	sysexec "github.com/danobi/vmtest/internal/system/exec"
	"github.com/danobi/vmtest/internal/sockname"
)

var plog = capnslog.NewPackageLogger("github.com/danobi/vmtest", "orchestrator")

// runArtifacts is everything a single Run allocates outside of Go memory:
// the three sockets, the materialized init script, and the hypervisor
// child process. cleanup() runs unconditionally on every exit path
// (including a panic unwinding through Run), matching the scope-guarded
// drop discipline described in §3/§5.
type runArtifacts struct {
	sockets sockname.Group
	init    *initstage.Staged
	child   *sysexec.ExecCmd
}

// cleanup kills the hypervisor child (if still alive), then removes the
// socket files and the staged init script. Each step is independent and
// best-effort: a failure in one does not skip the others.
func (a *runArtifacts) cleanup() {
	if a.child != nil {
		if err := a.child.Kill(); err != nil {
			plog.Warningf("failed to kill hypervisor process: %v", err)
		}
	}
	a.sockets.RemoveAll()
	a.init.Remove()
}

// syncBuffer is a concurrency-safe io.Writer used to capture a child
// process' stderr while the Orchestrator may concurrently read it back
// for a diagnostic message before the child has exited.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
