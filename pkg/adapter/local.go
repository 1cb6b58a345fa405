package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/shlex"

	"github.com/launchrctl/xec/internal/xec"
	"github.com/launchrctl/xec/pkg/command"
	"github.com/launchrctl/xec/pkg/runner"
)

// LocalAdapter spawns a child process on the host, grounded on the teacher's
// shell runtime: exec.CommandContext plus signal forwarding.
type LocalAdapter struct {
	// Shell overrides the platform default shell for Shell-mode commands.
	// Empty means $SHELL, falling back to /bin/sh on unix or cmd.exe on
	// Windows.
	Shell string
}

// NewLocalAdapter builds a LocalAdapter using the given default shell, or
// the platform default when shell is empty.
func NewLocalAdapter(shell string) *LocalAdapter {
	return &LocalAdapter{Shell: shell}
}

func (a *LocalAdapter) defaultShell() (string, []string) {
	if a.Shell != "" {
		return a.Shell, []string{"-c"}
	}
	if runtime.GOOS == "windows" {
		return "cmd.exe", []string{"/C"}
	}
	sh := os.Getenv("SHELL")
	if sh == "" {
		sh = "/bin/sh"
	}
	return sh, []string{"-c"}
}

func (a *LocalAdapter) argv(spec *command.RunSpec) ([]string, error) {
	if spec.Command.Exec != nil {
		return spec.Command.Exec.Argv, nil
	}
	sh := spec.Command.Shell
	switch sh.Mode {
	case command.ShellNone:
		argv, err := shlex.Split(sh.Script)
		if err != nil {
			return nil, fmt.Errorf("local: splitting shell-less script: %w", err)
		}
		return argv, nil
	case command.ShellNamed:
		name := sh.Name
		if name == "" {
			name, _ = a.defaultShell()
		}
		return []string{name, "-c", sh.Script}, nil
	default: // ShellAuto
		name, flags := a.defaultShell()
		return append([]string{name}, append(flags, sh.Script)...), nil
	}
}

// Execute implements Adapter.
func (a *LocalAdapter) Execute(ctx context.Context, target command.Target, spec *command.RunSpec) (*runner.Handle, error) {
	argv, err := a.argv(spec)
	if err != nil {
		return nil, command.NewError(command.KindSpawn, target, spec.Command.String(), err)
	}
	if len(argv) == 0 {
		return nil, command.NewError(command.KindSpawn, target, spec.Command.String(), errors.New("empty command"))
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		runCtx, _ = context.WithTimeout(ctx, spec.Timeout) //nolint:lostcancel // cancel fires via adapter-owned ctx tree, not leaked past Wait
	}

	grace := spec.GracePeriod
	if grace == 0 {
		grace = command.DefaultGracePeriod
	}
	killSig := spec.KillSignal
	if killSig == "" {
		killSig = command.DefaultKillSignal
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...) //nolint:gosec // G204 caller-constructed command is expected.
	// §4.3.1: ctx expiring (Timeout or an external Cancel) sends killSignal
	// first and only escalates to KILL if the process is still around after
	// gracePeriod, instead of exec.CommandContext's default immediate KILL.
	cmd.Cancel = func() error {
		sig, sigErr := xec.SignalFromName(killSig)
		if sigErr != nil {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(sig)
	}
	cmd.WaitDelay = grace
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	cmd.Env = buildEnv(spec)

	stdout, stderr := buildStdioSinks(spec)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	var stdinPipe io.WriteCloser
	switch spec.Stdin.Kind {
	case command.StdinBytes:
		cmd.Stdin = strings.NewReader(string(spec.Stdin.Bytes))
	case command.StdinStream:
		cmd.Stdin = spec.Stdin.Stream
	case command.StdinInherit:
		cmd.Stdin = os.Stdin
	}

	if err := cmd.Start(); err != nil {
		return nil, command.NewError(command.KindSpawn, target, spec.Command.String(), err)
	}
	if spec.Stdin.Kind == command.StdinNone {
		stdinPipe = nil
	}

	sigc := xec.NotifySignals()
	go xec.HandleSignals(runCtx, sigc, func(s os.Signal, _ string) error {
		return cmd.Process.Signal(s)
	})

	w := &localWaiter{cmd: cmd, sigc: sigc}
	return runner.New(target, spec.Command.String(), w, stdout, stderr, stdinPipe, killSig, grace), nil
}

func buildEnv(spec *command.RunSpec) []string {
	var base []string
	switch spec.EnvMode {
	case command.EnvReplaceAll:
		base = []string{} // non-nil: a nil cmd.Env would make exec inherit os.Environ()
	case command.EnvReplaceSensitive:
		base = filterSensitiveEnv(os.Environ())
	default: // EnvOverlay
		base = os.Environ()
	}
	for _, v := range spec.Env {
		base = append(base, v.Name+"="+v.Value)
	}
	return base
}

func filterSensitiveEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			name = kv[:idx]
		}
		if isDenied(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func isDenied(name string) bool {
	for _, pattern := range command.DefaultSensitiveEnvDenyList {
		if matchGlob(pattern, name) {
			return true
		}
	}
	return false
}

// matchGlob supports the small subset of globbing the deny-list needs:
// an optional leading/trailing "*".
func matchGlob(pattern, name string) bool {
	switch {
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		return strings.Contains(name, pattern[1:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	default:
		return pattern == name
	}
}

// localWaiter adapts *exec.Cmd to runner.Waiter.
type localWaiter struct {
	cmd  *exec.Cmd
	sigc chan os.Signal
}

func (w *localWaiter) Wait() (int, string, error) {
	defer xec.StopCatchSignals(w.sigc)
	err := w.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitSignal(exitErr); ok {
			return -1, status, nil
		}
		return exitErr.ExitCode(), "", nil
	}
	if err != nil {
		return -1, "", err
	}
	return w.cmd.ProcessState.ExitCode(), "", nil
}

func (w *localWaiter) Signal(sig string) error {
	if w.cmd.Process == nil {
		return errors.New("local: process not started")
	}
	s, err := xec.SignalFromName(sig)
	if err != nil {
		return err
	}
	return w.cmd.Process.Signal(s)
}

func (w *localWaiter) Resize(_, _ uint16) error { return nil } // no TTY on local runs

func (w *localWaiter) Close() error { return nil }
