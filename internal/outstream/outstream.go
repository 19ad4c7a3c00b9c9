// Package outstream is the OutputStreamer (§4.5): a worker that copies a
// byte stream into line-delimited callbacks, used both for the
// hypervisor's stdout (boot log) and the virtio-serial command-output
// socket.
package outstream

import (
	"bufio"
	"io"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/danobi/vmtest", "outstream")

const maxLineBuffer = 1 << 20

// Start spawns a goroutine that scans r for newline-delimited chunks,
// strips the trailing newline, and invokes sink with each line in order.
// It returns immediately; the goroutine terminates cleanly when the peer
// closes the stream (Scan returns false) and is fire-and-forget, matching
// §4.5: the Orchestrator does not join it directly, observing stream end
// indirectly via hypervisor exit.
func Start(r io.Reader, sink func(line string)) {
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 4096), maxLineBuffer)
		for scanner.Scan() {
			sink(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			plog.Debugf("output stream ended with error: %v", err)
		}
	}()
}
