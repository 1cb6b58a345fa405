//go:build !windows

package adapter

import (
	"os/exec"
	"syscall"

	"github.com/moby/sys/signal"
)

// exitSignal reports the signal name that terminated the process, if any.
func exitSignal(exitErr *exec.ExitError) (string, bool) {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return "", false
	}
	sig := status.Signal()
	for name, n := range signal.SignalMap {
		if n == sig {
			return name, true
		}
	}
	return "", false
}
