// Package gaclient is the AgentClient (§4.3): a blocking request/response
// client to the guest-agent socket with a bounded handshake timeout.
//
// digitalocean/go-qemu/qmp (used by internal/qmpclient for the control
// protocol) is deliberately not reused here: its SocketMonitor.Connect
// unconditionally performs the QMP greeting/capabilities-negotiation
// handshake, which the guest-agent protocol does not speak (QGA has no
// banner; readiness is established via guest-sync). So this package frames
// JSON requests, one newline-terminated object each, directly over the unix
// socket.
package gaclient

import (
	"encoding/json"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"
)

var plog = capnslog.NewPackageLogger("github.com/danobi/vmtest", "gaclient")

// Handshake deadlines (§4.3, §5): shorter when the hypervisor has hardware
// acceleration available, much longer under pure emulation.
const (
	accelHandshakeTimeout   = 30 * time.Second
	emulatedHandshakeTimeout = 120 * time.Second

	dialRetryStep = 50 * time.Millisecond
	syncRetryStep = 100 * time.Millisecond

	// callTimeout bounds any single request/response round trip once the
	// handshake has completed; exec-status polling backoff is managed by
	// the caller (Orchestrator), not here.
	callTimeout = 30 * time.Second
)

// ErrTimeout is reported verbatim per §4.3 / §7 (AgentTimeout).
var ErrTimeout = errors.New("timed out waiting for guest agent")

// Version is the major/minor/patch triple parsed from the agent handshake
// (§3 GuestAgentVersion), used to select capture mode.
type Version struct {
	Major, Minor, Patch int
}

// AtLeast reports whether v >= (major, minor).
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// CaptureMode selects how guest-exec captures the child's output.
type CaptureMode int

const (
	// CaptureSeparate requests independent stdout/stderr streams, for
	// agents older than 8.1.
	CaptureSeparate CaptureMode = iota
	// CaptureMerged requests a single combined stdout+stderr stream,
	// available from agent version 8.1 onward.
	CaptureMerged
)

// Handle is the opaque result of a successful exec request.
type Handle struct {
	PID int64
}

// ExecStatus mirrors the guest-exec-status response fields named in §3.
type ExecStatus struct {
	Exited       bool
	ExitCode     int
	OutData      []byte
	OutTruncated bool
	ErrData      []byte
	ErrTruncated bool
}

// Client is a connected, handshaken guest-agent session.
type Client struct {
	conn    net.Conn
	dec     *json.Decoder
	Version Version
}

// Dial connects to the guest-agent socket at path, performing the
// connect/sync handshake described in §4.3: connect, set a read timeout,
// issue guest-sync with a random cookie, and retry on failure until
// accelHandshakeTimeout or emulatedHandshakeTimeout elapses. On success it
// queries guest-info for the version triple and keeps the stream open.
func Dial(path string, hasAccel bool) (*Client, error) {
	timeout := emulatedHandshakeTimeout
	if hasAccel {
		timeout = accelHandshakeTimeout
	}
	deadline := time.Now().Add(timeout)

	var conn net.Conn
	var dec *json.Decoder
	for {
		c, err := net.DialTimeout("unix", path, dialRetryStep)
		if err == nil {
			if sErr := c.SetDeadline(time.Now().Add(timeout)); sErr != nil {
				c.Close()
				return nil, errors.Wrap(sErr, "failed to set guest agent socket deadline")
			}
			d := json.NewDecoder(c)
			if syncErr := trySync(c, d); syncErr == nil {
				conn = c
				dec = d
				break
			} else {
				plog.Debugf("guest agent sync failed, retrying: %v", syncErr)
				c.Close()
			}
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(syncRetryStep)
	}

	// Subsequent calls get their own per-request deadline.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to clear guest agent socket deadline")
	}

	cl := &Client{conn: conn, dec: dec}

	ver, err := cl.guestInfo()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to query guest-info")
	}
	cl.Version = ver

	return cl, nil
}

// trySync sends a single guest-sync with a fresh random cookie and waits
// for the matching reply.
func trySync(conn net.Conn, dec *json.Decoder) error {
	cookie := rand.Int31()
	req := map[string]interface{}{
		"execute":   "guest-sync",
		"arguments": map[string]interface{}{"id": cookie},
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return errors.Wrap(err, "failed to send guest-sync")
	}

	var resp struct {
		Return int64 `json:"return"`
	}
	if err := dec.Decode(&resp); err != nil {
		return errors.Wrap(err, "failed to read guest-sync response")
	}
	if resp.Return != int64(cookie) {
		return errors.Errorf("guest-sync cookie mismatch: sent %d, got %d", cookie, resp.Return)
	}
	return nil
}

// call issues a single request and decodes its response into out.
func (c *Client) call(execute string, args interface{}, out interface{}) error {
	if err := c.conn.SetDeadline(time.Now().Add(callTimeout)); err != nil {
		return errors.Wrap(err, "failed to set guest agent call deadline")
	}
	defer c.conn.SetDeadline(time.Time{})

	req := map[string]interface{}{"execute": execute}
	if args != nil {
		req["arguments"] = args
	}
	if err := json.NewEncoder(c.conn).Encode(req); err != nil {
		return errors.Wrapf(err, "failed to send %s", execute)
	}

	var raw struct {
		Return json.RawMessage `json:"return"`
		Error  *struct {
			Class string `json:"class"`
			Desc  string `json:"desc"`
		} `json:"error"`
	}
	if err := c.dec.Decode(&raw); err != nil {
		return errors.Wrapf(err, "failed to read %s response", execute)
	}
	if raw.Error != nil {
		return errors.Errorf("%s failed: %s: %s", execute, raw.Error.Class, raw.Error.Desc)
	}
	if out != nil && len(raw.Return) > 0 {
		if err := json.Unmarshal(raw.Return, out); err != nil {
			return errors.Wrapf(err, "failed to decode %s return value", execute)
		}
	}
	return nil
}

func (c *Client) guestInfo() (Version, error) {
	var info struct {
		Version string `json:"version"`
	}
	if err := c.call("guest-info", nil, &info); err != nil {
		return Version{}, err
	}
	return parseVersion(info.Version)
}

// parseVersion parses a "major.minor.patch[-extra]" version string.
func parseVersion(s string) (Version, error) {
	s = strings.SplitN(s, "-", 2)[0]
	parts := strings.SplitN(s, ".", 3)
	var v Version
	var err error
	if len(parts) > 0 {
		if v.Major, err = strconv.Atoi(parts[0]); err != nil {
			return Version{}, errors.Wrapf(err, "invalid guest agent version %q", s)
		}
	}
	if len(parts) > 1 {
		if v.Minor, err = strconv.Atoi(parts[1]); err != nil {
			return Version{}, errors.Wrapf(err, "invalid guest agent version %q", s)
		}
	}
	if len(parts) > 2 {
		if v.Patch, err = strconv.Atoi(parts[2]); err != nil {
			return Version{}, errors.Wrapf(err, "invalid guest agent version %q", s)
		}
	}
	return v, nil
}

// Exec issues guest-exec for path/args/env under the given capture mode
// and returns the resulting process handle.
func (c *Client) Exec(path string, args, env []string, mode CaptureMode) (Handle, error) {
	req := map[string]interface{}{"path": path}
	if len(args) > 0 {
		req["arg"] = args
	}
	if len(env) > 0 {
		req["env"] = env
	}
	if mode == CaptureMerged {
		req["output-mode"] = "merged"
	} else {
		req["capture-output"] = true
	}

	var resp struct {
		PID int64 `json:"pid"`
	}
	if err := c.call("guest-exec", req, &resp); err != nil {
		return Handle{}, err
	}
	return Handle{PID: resp.PID}, nil
}

// ExecStatus polls the status of a previously-started exec handle.
func (c *Client) ExecStatus(pid int64) (ExecStatus, error) {
	var resp struct {
		Exited       bool   `json:"exited"`
		ExitCode     *int   `json:"exitcode"`
		OutData      string `json:"out-data"`
		OutTruncated bool   `json:"out-truncated"`
		ErrData      string `json:"err-data"`
		ErrTruncated bool   `json:"err-truncated"`
	}
	if err := c.call("guest-exec-status", map[string]interface{}{"pid": pid}, &resp); err != nil {
		return ExecStatus{}, err
	}

	status := ExecStatus{
		Exited:       resp.Exited,
		OutTruncated: resp.OutTruncated,
		ErrTruncated: resp.ErrTruncated,
	}
	if resp.ExitCode != nil {
		status.ExitCode = *resp.ExitCode
	}
	if resp.OutData != "" {
		if b, err := decodeBase64(resp.OutData); err == nil {
			status.OutData = b
		}
	}
	if resp.ErrData != "" {
		if b, err := decodeBase64(resp.ErrData); err == nil {
			status.ErrData = b
		}
	}
	return status, nil
}

// Close tears down the agent connection.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	_ = c.conn.Close()
}
