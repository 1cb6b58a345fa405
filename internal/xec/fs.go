package xec

import (
	"fmt"
	"os"
	"path/filepath"
)

// MustAbs returns the absolute, cleaned form of path and panics on error —
// used only for paths the caller controls (e.g. cwd resolution defaults),
// never for untrusted input.
func MustAbs(path string) string {
	abs, err := filepath.Abs(filepath.Clean(filepath.FromSlash(path)))
	if err != nil {
		panic(err)
	}
	return abs
}

// EnsurePath creates all directories in the joined path if missing.
func EnsurePath(parts ...string) error {
	p := filepath.Clean(filepath.Join(parts...))
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return os.MkdirAll(p, 0750)
	}
	return nil
}

type cleanupFn func() error

var registeredCleanups []cleanupFn

// RegisterCleanupFn saves a function to run on [Cleanup], last-registered-first.
func RegisterCleanupFn(fn cleanupFn) {
	registeredCleanups = append(registeredCleanups, fn)
}

// Cleanup runs all registered cleanup functions, in LIFO order, and returns
// the first error any of them returned. It is a last-resort net for scoped
// resources registered with RegisterCleanupFn (e.g. MkdirTemp's directories)
// whose normal defer-based release was bypassed by a panic or process signal.
func Cleanup() error {
	var firstErr error
	for i := len(registeredCleanups) - 1; i >= 0; i-- {
		if err := registeredCleanups[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	registeredCleanups = nil
	return firstErr
}

// MkdirTemp creates a private temp directory, preferring tmpfs (/run) over
// the system temp dir, and registers it for [Cleanup].
func MkdirTemp(pattern string) (string, error) {
	base := os.TempDir()
	if st, err := os.Stat("/run"); err == nil && st.IsDir() {
		base = "/run"
	}
	dir, err := os.MkdirTemp(base, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	RegisterCleanupFn(func() error { return os.RemoveAll(dir) })
	return dir, nil
}
