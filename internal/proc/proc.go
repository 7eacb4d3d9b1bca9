// Package proc wraps one OS child process: launch in its own process group,
// signal the whole group, wait for exit, and drain output into a log file.
package proc

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

// ExitCodeUnknown is reported when the child was killed by a signal and
// never produced an exit code.
const ExitCodeUnknown = -1

// Signal is a process-group control request.
type Signal int

const (
	SignalStop      Signal = iota // suspend the group (SIGSTOP)
	SignalContinue                // resume the group (SIGCONT)
	SignalTerminate               // ask the group to exit (SIGTERM)
	SignalKill                    // force the group down (SIGKILL)
)

func (s Signal) String() string {
	switch s {
	case SignalStop:
		return "stop"
	case SignalContinue:
		return "continue"
	case SignalTerminate:
		return "terminate"
	case SignalKill:
		return "kill"
	}
	return "unknown"
}

// LineFunc receives each output line as it is drained.
type LineFunc func(line string)

// LaunchSpec describes the child to spawn.
type LaunchSpec struct {
	Path    string
	Args    []string
	WorkDir string
	Env     map[string]string

	// LogPath receives the child's stdout and stderr, line by line.
	LogPath string
	// OnLine, when set, observes every drained line.
	OnLine LineFunc
}

// Handle supervises one spawned child process.
type Handle struct {
	cmd  *exec.Cmd
	pid  int
	spec LaunchSpec

	done     chan struct{}
	exitCode atomic.Int64
}

// Launch spawns the child in its own process group and returns immediately.
// Output draining starts at once and must not block the child: lines flow
// through a buffered writer goroutine, and everything produced before exit
// or termination is flushed to the log file.
func Launch(spec LaunchSpec) (*Handle, error) {
	path, err := resolveExecutable(spec.Path)
	if err != nil {
		return nil, err
	}

	logw, err := newLogWriter(spec.LogPath)
	if err != nil {
		return nil, core.ErrLaunch(fmt.Sprintf("opening log file %s", spec.LogPath)).WithCause(err)
	}

	// #nosec G204 -- the invocation triple comes from the config materializer
	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	setProcGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logw.Close()
		return nil, core.ErrLaunch("creating stdout pipe").WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		logw.Close()
		return nil, core.ErrLaunch("creating stderr pipe").WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		logw.Close()
		return nil, core.ErrLaunch(fmt.Sprintf("starting %s", path)).WithCause(err)
	}

	h := &Handle{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		spec: spec,
		done: make(chan struct{}),
	}
	h.exitCode.Store(ExitCodeUnknown)

	var drained sync.WaitGroup
	drained.Add(2)
	go h.drain(stdout, logw, &drained)
	go h.drain(stderr, logw, &drained)

	// Single reaper: Wait is called exactly once, so Handle.Wait and Signal
	// are safe to use concurrently from control and monitor paths.
	go func() {
		drained.Wait()
		err := cmd.Wait()
		logw.Close()

		code := 0
		if err != nil {
			code = ExitCodeUnknown
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
		}
		h.exitCode.Store(int64(code))
		close(h.done)
	}()

	return h, nil
}

func resolveExecutable(path string) (string, error) {
	if path == "" {
		return "", core.ErrLaunch("executable path is empty")
	}
	if strings.ContainsRune(path, os.PathSeparator) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", core.ErrLaunch(fmt.Sprintf("resolving %s", path)).WithCause(err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", core.ErrLaunch(fmt.Sprintf("executable missing: %s", abs)).WithCause(err)
		}
		if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
			return "", core.ErrLaunch(fmt.Sprintf("not executable: %s", abs))
		}
		return abs, nil
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", core.ErrLaunch(fmt.Sprintf("executable not found in PATH: %s", path)).WithCause(err)
	}
	return resolved, nil
}

func (h *Handle) drain(pipe interface{ Read([]byte) (int, error) }, logw *logWriter, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		logw.WriteLine(line)
		if h.spec.OnLine != nil {
			h.spec.OnLine(line)
		}
	}
	// Scanner errors mean the pipe closed abruptly; the reaper handles it.
}

// Pid returns the child's process id.
func (h *Handle) Pid() int {
	return h.pid
}

// Done is closed once the child has exited and its output is flushed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Running reports whether the child has not yet been reaped.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the child exits and returns its exit code. Safe to call
// concurrently with Signal and from multiple goroutines.
func (h *Handle) Wait() int {
	<-h.done
	return int(h.exitCode.Load())
}

// ExitCode returns the recorded exit code, or -1 while still running.
func (h *Handle) ExitCode() int {
	return int(h.exitCode.Load())
}

// Signal delivers sig to the whole process group so sub-children spawned by
// the simulator are paused and killed along with it. Signaling an
// already-exited process fails with a process-not-found error; callers treat
// that as an input racing against exit detection, not as corruption.
func (h *Handle) Signal(sig Signal) error {
	if !h.Running() {
		return core.ErrProcessNotFound(h.pid)
	}
	return signalGroup(h.pid, sig)
}
