//go:build windows

package proc

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

func setProcGroup(_ *exec.Cmd) {
	// No POSIX process groups on Windows; termination falls back to killing
	// the direct child only.
}

func signalGroup(pid int, sig Signal) error {
	switch sig {
	case SignalStop, SignalContinue:
		// Windows has no STOP/CONT equivalent. Pause degrades to the
		// checkpoint-and-relaunch strategy handled by the supervisor.
		return core.ErrSignal(fmt.Sprintf("%s not supported on windows", sig))
	case SignalTerminate, SignalKill:
		p, err := os.FindProcess(pid)
		if err != nil {
			return core.ErrProcessNotFound(pid).WithCause(err)
		}
		if err := p.Kill(); err != nil {
			return core.ErrSignal(fmt.Sprintf("killing pid %d", pid)).WithCause(err)
		}
		return nil
	}
	return core.ErrSignal(fmt.Sprintf("unknown signal %d", sig))
}

// SuspendSupported reports whether the platform can pause a process group.
func SuspendSupported() bool {
	return false
}
