package gaclient

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent is a minimal guest-agent server good enough to exercise Dial,
// Exec, and ExecStatus without a real VM.
type fakeAgent struct {
	t        *testing.T
	listener net.Listener
	version  string
}

func startFakeAgent(t *testing.T, version string) (sockPath string, stop func()) {
	dir := t.TempDir()
	sockPath = filepath.Join(dir, "qga.sock")

	l, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	fa := &fakeAgent{t: t, listener: l, version: version}
	go fa.serve()

	return sockPath, func() { l.Close() }
}

func (fa *fakeAgent) serve() {
	conn, err := fa.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	execCount := 0
	for {
		var req struct {
			Execute   string                 `json:"execute"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := dec.Decode(&req); err != nil {
			return
		}

		switch req.Execute {
		case "guest-sync":
			enc.Encode(map[string]interface{}{"return": int(req.Arguments["id"].(float64))})
		case "guest-info":
			enc.Encode(map[string]interface{}{"return": map[string]string{"version": fa.version}})
		case "guest-exec":
			execCount++
			enc.Encode(map[string]interface{}{"return": map[string]int{"pid": 4242}})
		case "guest-exec-status":
			out := base64.StdEncoding.EncodeToString([]byte("hello\n"))
			errd := base64.StdEncoding.EncodeToString([]byte(""))
			code := 0
			enc.Encode(map[string]interface{}{"return": map[string]interface{}{
				"exited":   true,
				"exitcode": code,
				"out-data": out,
				"err-data": errd,
			}})
		default:
			enc.Encode(map[string]interface{}{"error": map[string]string{"class": "GenericError", "desc": "unknown"}})
		}
	}
}

func TestDialAndVersion(t *testing.T) {
	path, stop := startFakeAgent(t, "8.1.0")
	defer stop()

	c, err := Dial(path, true)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, Version{Major: 8, Minor: 1, Patch: 0}, c.Version)
	assert.True(t, c.Version.AtLeast(8, 1))
	assert.False(t, c.Version.AtLeast(8, 2))
	assert.True(t, c.Version.AtLeast(7, 9))
}

func TestExecAndStatus(t *testing.T) {
	path, stop := startFakeAgent(t, "7.0.0")
	defer stop()

	c, err := Dial(path, true)
	require.NoError(t, err)
	defer c.Close()

	h, err := c.Exec("/bin/echo", []string{"hi"}, nil, CaptureSeparate)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), h.PID)

	status, err := c.ExecStatus(h.PID)
	require.NoError(t, err)
	assert.True(t, status.Exited)
	assert.Equal(t, 0, status.ExitCode)
	assert.Equal(t, "hello\n", string(status.OutData))
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("8.1.0")
	require.NoError(t, err)
	assert.Equal(t, Version{8, 1, 0}, v)

	v, err = parseVersion("6.2.0-3.fc37")
	require.NoError(t, err)
	assert.Equal(t, Version{6, 2, 0}, v)
}
