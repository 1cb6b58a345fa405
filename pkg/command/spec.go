package command

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ShellMode selects how a Shell command is interpreted.
type ShellMode int

// Recognized shell modes.
const (
	ShellAuto  ShellMode = iota // platform/target default shell
	ShellNamed                  // an explicitly named shell (Shell.Name)
	ShellNone                   // no shell: the string is sent as-is (rare; mostly for pre-assembled text)
)

// Shell is a command given as a shell string, e.g. `"echo hi | wc -l"`.
type Shell struct {
	Script string
	Mode   ShellMode
	Name   string // shell binary, used when Mode == ShellNamed
}

// Exec is a command given as an argv, bypassing shell interpretation.
type Exec struct {
	Argv []string
}

// Command is exactly one of Shell or Exec — the RunSpec invariant that
// "exactly one of shell/exec is set" is enforced by NewSpec, not by the type
// (Go has no sum types), so construct RunSpec only via NewSpec/WithShell/WithExec.
type Command struct {
	Shell *Shell
	Exec  *Exec
}

func (c Command) String() string {
	switch {
	case c.Shell != nil:
		return c.Shell.Script
	case c.Exec != nil:
		return POSIXQuoter.Join(c.Exec.Argv)
	default:
		return ""
	}
}

// StdinKind selects the source of a run's standard input.
type StdinKind int

// Recognized stdin sources.
const (
	StdinNone StdinKind = iota
	StdinBytes
	StdinStream
	StdinInherit
)

// Stdin describes a run's standard input source.
type Stdin struct {
	Kind   StdinKind
	Bytes  []byte
	Stream io.Reader
}

// RoutingKind selects what happens to a stdout/stderr slot.
type RoutingKind int

// Recognized routing kinds.
const (
	RouteCapture RoutingKind = iota // buffered into Result.Stdout/Stderr
	RouteInherit                    // connected to the calling process's stream
	RouteIgnore                     // discarded
	RouteSink                       // written only to a caller-supplied io.Writer
	RouteTee                        // captured AND written to a caller-supplied io.Writer
)

// Routing describes what happens to one stdio slot (stdout or stderr).
type Routing struct {
	Kind   RoutingKind
	Writer io.Writer // set when Kind is RouteSink or RouteTee
}

// CaptureRouting returns a Routing that buffers into the Result.
func CaptureRouting() Routing { return Routing{Kind: RouteCapture} }

// EnvMode selects how RunSpec.Env combines with the target's inherited environment.
type EnvMode int

// Recognized environment inheritance modes.
const (
	EnvOverlay           EnvMode = iota // Inherit+Overlay: default, RunSpec.Env is overlaid on the inherited environment
	EnvReplaceAll                       // the inherited environment is discarded; only RunSpec.Env is used
	EnvReplaceSensitive                 // like Overlay, but a deny-list is stripped from the inherited environment first
)

// DefaultSensitiveEnvDenyList is stripped from the inherited environment under EnvReplaceSensitive.
var DefaultSensitiveEnvDenyList = []string{"AWS_*", "*_TOKEN", "*_KEY", "NPM_TOKEN", "*_SECRET", "*_PASSWORD"}

// EnvVar is one ordered environment variable assignment.
type EnvVar struct {
	Name  string
	Value string
}

// DefaultMaxBuffer is the default cap on captured stdout/stderr, ~10 MiB.
const DefaultMaxBuffer = 10 * 1024 * 1024

// DefaultKillSignal is sent before escalating to KILL on timeout/cancel.
const DefaultKillSignal = "TERM"

// DefaultGracePeriod is how long a run gets to exit after KillSignal before KILL is sent.
const DefaultGracePeriod = 5 * time.Second

// RunSpec is a description of what to run. Construct one with [NewSpec];
// Options only act on the spec NewSpec is building, and the engine copies a
// spec rather than changing it. Its fields stay exported, so nothing stops a
// caller from changing a built spec directly.
type RunSpec struct {
	Command Command

	Stdin         Stdin
	StdoutRouting Routing
	StderrRouting Routing

	Env     []EnvVar
	EnvMode EnvMode

	Cwd string // empty means target's default working directory

	Timeout     time.Duration // 0 means no timeout
	KillSignal  string
	GracePeriod time.Duration

	Encoding string // default "utf-8"
	MaxBuffer int64

	ThrowOnNonZero bool

	Sudo SudoOptions // only consulted by the SSH adapter

	Cancel context.Context // optional external cancellation token, linked into the run's context
}

// Option configures a RunSpec under construction. Options are applied in
// order, right-hand wins, mirroring the teacher's AppCliOption pattern.
type Option func(*RunSpec) error

// NewSpec builds a RunSpec from options, applying defaults and
// validating the invariants from §3: exactly one of shell/exec, timeout >= 0.
func NewSpec(opts ...Option) (*RunSpec, error) {
	s := &RunSpec{
		EnvMode:        EnvOverlay,
		KillSignal:     DefaultKillSignal,
		GracePeriod:    DefaultGracePeriod,
		Encoding:       "utf-8",
		MaxBuffer:      DefaultMaxBuffer,
		ThrowOnNonZero: true,
		StdoutRouting:  CaptureRouting(),
		StderrRouting:  CaptureRouting(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.Command.Shell == nil && s.Command.Exec == nil {
		return nil, fmt.Errorf("command: exactly one of shell or exec must be set, got neither")
	}
	if s.Command.Shell != nil && s.Command.Exec != nil {
		return nil, fmt.Errorf("command: exactly one of shell or exec must be set, got both")
	}
	if s.Timeout < 0 {
		return nil, fmt.Errorf("timeout: negative durations are rejected, got %s", s.Timeout)
	}
	return s, nil
}

// WithShellString sets the command to a shell string with the default (auto) shell.
func WithShellString(script string) Option {
	return func(s *RunSpec) error {
		s.Command = Command{Shell: &Shell{Script: script, Mode: ShellAuto}}
		return nil
	}
}

// WithShell sets the command to a shell string run under a named shell, or
// with shell interpretation disabled when name == "" && mode == ShellNone.
func WithShell(script, name string, mode ShellMode) Option {
	return func(s *RunSpec) error {
		s.Command = Command{Shell: &Shell{Script: script, Mode: mode, Name: name}}
		return nil
	}
}

// WithExec sets the command to an argv, bypassing shell interpretation entirely.
func WithExec(argv ...string) Option {
	return func(s *RunSpec) error {
		if len(argv) == 0 {
			return fmt.Errorf("exec: argv must not be empty")
		}
		s.Command = Command{Exec: &Exec{Argv: argv}}
		return nil
	}
}

// WithCwd sets the working directory, resolved on the target.
func WithCwd(path string) Option {
	return func(s *RunSpec) error { s.Cwd = path; return nil }
}

// WithEnv overlays (or replaces, per mode) the given environment variables.
func WithEnv(mode EnvMode, vars ...EnvVar) Option {
	return func(s *RunSpec) error {
		s.EnvMode = mode
		s.Env = append(s.Env, vars...)
		return nil
	}
}

// WithTimeout sets the wall-clock budget for the whole run. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *RunSpec) error { s.Timeout = d; return nil }
}

// WithKillSignal overrides the default TERM signal sent on timeout/cancel.
func WithKillSignal(sig string) Option {
	return func(s *RunSpec) error { s.KillSignal = sig; return nil }
}

// WithStdinBytes sets stdin to a fixed byte payload.
func WithStdinBytes(b []byte) Option {
	return func(s *RunSpec) error { s.Stdin = Stdin{Kind: StdinBytes, Bytes: b}; return nil }
}

// WithStdinStream sets stdin to a live reader.
func WithStdinStream(r io.Reader) Option {
	return func(s *RunSpec) error { s.Stdin = Stdin{Kind: StdinStream, Stream: r}; return nil }
}

// WithStdinInherit connects stdin to the calling process's stdin.
func WithStdinInherit() Option {
	return func(s *RunSpec) error { s.Stdin = Stdin{Kind: StdinInherit}; return nil }
}

// WithStdoutRouting sets the stdout routing.
func WithStdoutRouting(r Routing) Option {
	return func(s *RunSpec) error { s.StdoutRouting = r; return nil }
}

// WithStderrRouting sets the stderr routing.
func WithStderrRouting(r Routing) Option {
	return func(s *RunSpec) error { s.StderrRouting = r; return nil }
}

// WithQuiet discards both stdout and stderr.
func WithQuiet() Option {
	return func(s *RunSpec) error {
		s.StdoutRouting = Routing{Kind: RouteIgnore}
		s.StderrRouting = Routing{Kind: RouteIgnore}
		return nil
	}
}

// WithVerbose inherits both stdout and stderr to the calling process's streams.
func WithVerbose() Option {
	return func(s *RunSpec) error {
		s.StdoutRouting = Routing{Kind: RouteInherit}
		s.StderrRouting = Routing{Kind: RouteInherit}
		return nil
	}
}

// WithNoThrow converts a non-zero exit into a Result rather than a CommandError.
func WithNoThrow() Option {
	return func(s *RunSpec) error { s.ThrowOnNonZero = false; return nil }
}

// WithMaxBuffer overrides the cap on captured stdout/stderr.
func WithMaxBuffer(n int64) Option {
	return func(s *RunSpec) error { s.MaxBuffer = n; return nil }
}

// WithSudo enables sudo elevation for SSH runs.
func WithSudo(opts SudoOptions) Option {
	return func(s *RunSpec) error {
		if opts.Method == "" {
			opts.Method = SudoSecureAskpass
		}
		opts.Enabled = true
		s.Sudo = opts
		return nil
	}
}

// WithCancel links an external cancellation token (a context) into the run.
func WithCancel(ctx context.Context) Option {
	return func(s *RunSpec) error { s.Cancel = ctx; return nil }
}
