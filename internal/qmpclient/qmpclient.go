// Package qmpclient is the ControlClient (§4.4): a blocking client to the
// hypervisor's control-plane protocol (QMP), used here only to perform the
// handshake and issue a graceful quit.
package qmpclient

import (
	"time"

	"github.com/digitalocean/go-qemu/qmp"
	"github.com/pkg/errors"
)

// handshakeDeadline is the total time budget for connecting to and
// negotiating capabilities with the control socket (§4.4, §5).
const handshakeDeadline = 5 * time.Second

const retryStep = 50 * time.Millisecond

// Client wraps a connected QMP monitor.
type Client struct {
	monitor *qmp.SocketMonitor
}

// Dial connects to the control socket at path, retrying on the same
// 5s-deadline/50ms-step pattern the rest of the core uses, and performs
// the QMP handshake (capability negotiation happens inside Connect).
func Dial(path string) (*Client, error) {
	deadline := time.Now().Add(handshakeDeadline)

	var monitor *qmp.SocketMonitor
	var lastErr error
	for {
		monitor, lastErr = qmp.NewSocketMonitor("unix", path, handshakeDeadline)
		if lastErr == nil {
			lastErr = monitor.Connect()
			if lastErr == nil {
				break
			}
		}

		if time.Now().After(deadline) {
			return nil, errors.Wrap(lastErr, "control protocol handshake failed")
		}
		time.Sleep(retryStep)
	}

	return &Client{monitor: monitor}, nil
}

// Quit asks the hypervisor to exit gracefully over the control protocol.
func (c *Client) Quit() error {
	_, err := c.monitor.Run([]byte(`{"execute":"quit"}`))
	if err != nil {
		return errors.Wrap(err, "control protocol quit failed")
	}
	return nil
}

// Close disconnects from the control socket. Safe to call more than once.
func (c *Client) Close() {
	if c == nil || c.monitor == nil {
		return
	}
	_ = c.monitor.Disconnect()
}
