package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	startupTimeout = 10 * time.Second
	stopTimeout    = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
	done   chan error
}

// serverEnv describes the state directories a server process uses.
type serverEnv struct {
	dbPath  string
	planDir string
}

func newServerEnv(t *testing.T) serverEnv {
	t.Helper()
	dir := t.TempDir()
	return serverEnv{
		dbPath:  filepath.Join(dir, "stepwise.db"),
		planDir: filepath.Join(dir, "plans"),
	}
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "stepwise-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "stepwise")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/stepwise")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	require.NoError(t, buildErr)
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, dir, parent, "could not find repo root")
		dir = parent
	}
}

func startServer(t *testing.T, env serverEnv, args ...string) *serverProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "find free port")
	addr := ln.Addr().String()
	ln.Close()

	stdout := &lockedBuffer{}
	cmd := exec.Command(getBinary(t), append([]string{"serve"}, args...)...)
	cmd.Env = append(os.Environ(),
		"STEPWISE_CONFIG=",
		"STEPWISE_LISTEN_ADDR="+addr,
		"STEPWISE_DB_PATH="+env.dbPath,
		"STEPWISE_PLAN_DIR="+env.planDir,
		"STEPWISE_LOG_LEVEL=info",
	)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	require.NoError(t, cmd.Start(), "start server")

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
		done:   make(chan error, 1),
	}
	go func() { sp.done <- cmd.Wait() }()

	t.Cleanup(func() {
		cmd.Process.Kill()
		<-sp.done
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	require.FailNow(t, "server did not become ready", "waited %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// stop sends SIGTERM and waits for a clean exit.
func (sp *serverProc) stop(t *testing.T) {
	t.Helper()
	require.NoError(t, sp.cmd.Process.Signal(syscall.SIGTERM), "signal server")
	select {
	case err := <-sp.done:
		sp.done <- err
		require.NoError(t, err, "server exit\nstdout:\n%s", sp.stdout.String())
	case <-time.After(stopTimeout):
		require.FailNow(t, "server did not stop", "waited %v", stopTimeout)
	}
}

// call sends body as JSON (a string is sent verbatim) and decodes the
// response into out when out is non-nil. It returns the status code.
func (sp *serverProc) call(t *testing.T, method, path string, body, out any) int {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, sp.url+path, rdr)
	require.NoError(t, err)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "%s %s", method, path)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out), "decode %s %s response", method, path)
	}
	return resp.StatusCode
}

// runCLI runs the binary with args and returns its combined output and
// exit code.
func runCLI(t *testing.T, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(getBinary(t), args...)
	cmd.Env = append(os.Environ(), "STEPWISE_CONFIG=")
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr, "run %v", args)
		return string(out), exitErr.ExitCode()
	}
	return string(out), 0
}
