package adapter

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// sshWaiter adapts an *ssh.Session to runner.Waiter. release returns the
// borrowed SSHConnection to the pool exactly once the session is done with
// it (invariant #3: the pool always sees the connection released exactly
// once per successful borrow).
type sshWaiter struct {
	session *ssh.Session
	release func()
	cleanup func()
	closed  bool
}

func (w *sshWaiter) Wait() (int, string, error) {
	err := w.session.Wait()
	w.cleanup()
	if err == nil {
		return 0, "", nil
	}
	var exitErr *ssh.ExitError
	if as(err, &exitErr) {
		if exitErr.Signal() != "" {
			return -1, exitErr.Signal(), nil
		}
		return exitErr.ExitStatus(), "", nil
	}
	var missing *ssh.ExitMissingError
	if as(err, &missing) {
		// Channel closed with neither exit-status nor exit-signal: treat as
		// a protocol-level failure rather than guessing an exit code.
		return -1, "", fmt.Errorf("ssh: channel closed without exit status: %w", err)
	}
	return -1, "", err
}

// as is a tiny errors.As wrapper kept local to avoid importing "errors" just
// for two call sites with concrete (non-chained) SSH error types.
func as(err error, target interface{}) bool {
	switch t := target.(type) {
	case **ssh.ExitError:
		if ee, ok := err.(*ssh.ExitError); ok {
			*t = ee
			return true
		}
	case **ssh.ExitMissingError:
		if me, ok := err.(*ssh.ExitMissingError); ok {
			*t = me
			return true
		}
	}
	return false
}

func (w *sshWaiter) Signal(sig string) error {
	name := strings.ToUpper(strings.TrimPrefix(sig, "SIG"))
	return w.session.Signal(ssh.Signal(name))
}

func (w *sshWaiter) Resize(rows, cols uint16) error {
	return w.session.WindowChange(int(rows), int(cols))
}

func (w *sshWaiter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.session.Close()
	w.release()
	return err
}
