//go:build windows

package adapter

import "os/exec"

// exitSignal: Windows process termination has no POSIX signal concept.
func exitSignal(_ *exec.ExitError) (string, bool) {
	return "", false
}
