//go:build !windows

package proc

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

func launchShell(t *testing.T, script string, onLine LineFunc) *Handle {
	t.Helper()
	h, err := Launch(LaunchSpec{
		Path:    "/bin/sh",
		Args:    []string{"-c", script},
		WorkDir: t.TempDir(),
		LogPath: filepath.Join(t.TempDir(), "out.log"),
		OnLine:  onLine,
	})
	require.NoError(t, err)
	return h
}

func TestLaunch_CleanExit(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	h := launchShell(t, `echo "one"; echo "two"`, func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})

	code := h.Wait()
	assert.Equal(t, 0, code)
	assert.False(t, h.Running())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestLaunch_NonZeroExit(t *testing.T) {
	h := launchShell(t, `exit 3`, nil)
	assert.Equal(t, 3, h.Wait())
}

func TestLaunch_WritesLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sim.log")
	h, err := Launch(LaunchSpec{
		Path:    "/bin/sh",
		Args:    []string{"-c", `echo stdout-line; echo stderr-line >&2`},
		LogPath: logPath,
	})
	require.NoError(t, err)
	require.Equal(t, 0, h.Wait())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "stdout-line")
	assert.Contains(t, content, "stderr-line")
}

func TestLaunch_UnknownExecutable(t *testing.T) {
	_, err := Launch(LaunchSpec{
		Path:    "/nonexistent/simulator",
		LogPath: filepath.Join(t.TempDir(), "out.log"),
	})
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeLaunchFailed))
}

func TestSignal_TerminateEndsProcess(t *testing.T) {
	h := launchShell(t, `sleep 30`, nil)
	require.True(t, h.Running())

	require.NoError(t, h.Signal(SignalTerminate))

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after TERM")
	}
	assert.Equal(t, ExitCodeUnknown, h.ExitCode(), "signal death has no exit code")
}

func TestSignal_StopAndContinue(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "out.log")
	h, err := Launch(LaunchSpec{
		Path:    "/bin/sh",
		Args:    []string{"-c", `i=0; while [ $i -lt 100 ]; do i=$((i+1)); sleep 0.05; done`},
		LogPath: logPath,
	})
	require.NoError(t, err)
	defer func() { _ = h.Signal(SignalKill); h.Wait() }()

	require.NoError(t, h.Signal(SignalStop))
	assert.True(t, h.Running(), "a stopped process is still alive")

	require.NoError(t, h.Signal(SignalContinue))
	assert.True(t, h.Running())
}

func TestSignal_Kill(t *testing.T) {
	h := launchShell(t, `sleep 30`, nil)

	require.NoError(t, h.Signal(SignalKill))
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after KILL")
	}
}

func TestSignal_AfterExit(t *testing.T) {
	h := launchShell(t, `true`, nil)
	h.Wait()

	err := h.Signal(SignalStop)
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeProcessNotFound))
}

func TestWait_Idempotent(t *testing.T) {
	h := launchShell(t, `exit 7`, nil)

	assert.Equal(t, 7, h.Wait())
	assert.Equal(t, 7, h.Wait(), "repeated waits report the same exit code")
}

func TestLaunch_LogSurvivesKill(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "out.log")
	h, err := Launch(LaunchSpec{
		Path:    "/bin/sh",
		Args:    []string{"-c", `echo before-sleep; sleep 30`},
		LogPath: logPath,
	})
	require.NoError(t, err)

	// Give the child a moment to emit its line.
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(logPath)
		if strings.Contains(string(data), "before-sleep") || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	require.NoError(t, h.Signal(SignalKill))
	h.Wait()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "before-sleep",
		"output produced before the kill must be flushed")
}
