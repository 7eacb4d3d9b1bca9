//go:build !windows

package proc

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

// configureProcAttr-style group isolation: the child becomes its own process
// group leader so the whole tree can be signaled at once.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, sig Signal) error {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// Process already reaped.
		return core.ErrProcessNotFound(pid).WithCause(err)
	}

	var unixSig syscall.Signal
	switch sig {
	case SignalStop:
		unixSig = syscall.SIGSTOP
	case SignalContinue:
		unixSig = syscall.SIGCONT
	case SignalTerminate:
		unixSig = syscall.SIGTERM
	case SignalKill:
		unixSig = syscall.SIGKILL
	default:
		return core.ErrSignal(fmt.Sprintf("unknown signal %d", sig))
	}

	if err := syscall.Kill(-pgid, unixSig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return core.ErrProcessNotFound(pid).WithCause(err)
		}
		return core.ErrSignal(fmt.Sprintf("sending %s to pgid %d", sig, pgid)).WithCause(err)
	}
	return nil
}

// SuspendSupported reports whether the platform can pause a process group.
func SuspendSupported() bool {
	return true
}
