package xec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/launchrctl/xec/pkg/command"
)

// ProcessPromise is the chainable, lazily-configured run object returned by
// an Engine's target factories (Local/SSH/Docker/K8s). Modifiers accumulate
// command.Options; nothing is dispatched until the first Await. Grounded on
// the teacher's `core/cli.AppCliOption` accumulation pattern, generalized
// from "options collected before one Cli is built" to "options collected
// before one RunSpec is frozen".
type ProcessPromise struct {
	engine *Engine
	target command.Target

	mu       sync.Mutex
	opts     []command.Option
	buildErr error

	stdinFrom *ProcessPromise // set by Pipe when this promise feeds from another's stdout
	retryOpts *RetryOptions

	once   sync.Once
	result *command.Result
	runErr error
}

func newPromise(e *Engine, target command.Target) *ProcessPromise {
	p := &ProcessPromise{engine: e, target: target}
	p.opts = append(p.opts, e.defaults...)
	return p
}

func (p *ProcessPromise) addOpt(o command.Option) *ProcessPromise {
	p.mu.Lock()
	p.opts = append(p.opts, o)
	p.mu.Unlock()
	return p
}

func (p *ProcessPromise) fail(err error) *ProcessPromise {
	p.mu.Lock()
	if p.buildErr == nil {
		p.buildErr = err
	}
	p.mu.Unlock()
	return p
}

// Shell sets the command to a literal shell string, interpreted by the
// target's default shell. Equivalent to the fluent builder's bare template
// call with no interpolation.
func (p *ProcessPromise) Shell(script string) *ProcessPromise {
	return p.addOpt(command.WithShellString(script))
}

// Shellf is the template-call modifier: it builds a Shell command by
// substituting each %s in format with the corresponding argument quoted
// through the POSIX Quoter. A []string/[]interface{} argument expands as
// space-separated quoted tokens; a *ProcessPromise argument is awaited
// first and substituted with its captured, trimmed stdout — the Go
// realization of "a nested builder expands as its captured stdout".
func (p *ProcessPromise) Shellf(format string, args ...interface{}) *ProcessPromise {
	quoted, err := quoteTemplateArgs(args)
	if err != nil {
		return p.fail(err)
	}
	return p.addOpt(command.WithShellString(fmt.Sprintf(format, quoted...)))
}

// Exec sets the command to an argv, bypassing shell interpretation entirely.
func (p *ProcessPromise) Exec(argv ...string) *ProcessPromise {
	return p.addOpt(command.WithExec(argv...))
}

func quoteTemplateArgs(args []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case *ProcessPromise:
			res, err := v.Await(context.Background())
			if err != nil {
				return nil, fmt.Errorf("xec: nested builder argument %d failed: %w", i, err)
			}
			out[i] = strings.TrimRight(res.StdoutString(), "\n")
		case []string:
			out[i] = joinQuoted(v)
		case string:
			out[i] = command.POSIXQuoter.Quote(v)
		default:
			out[i] = command.POSIXQuoter.Quote(toStringArg(v))
		}
	}
	return out, nil
}

func joinQuoted(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = command.POSIXQuoter.Quote(t)
	}
	return strings.Join(quoted, " ")
}

// toStringArg formats and quotes an arbitrary scalar/slice argument for
// interpolation. Reflection covers the iterable case for non-[]string slices
// (e.g. []int) without one switch arm per element type; each element is
// quoted as its own token.
func toStringArg(v interface{}) string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		parts := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts[i] = command.POSIXQuoter.Quote(fmt.Sprint(rv.Index(i).Interface()))
		}
		return strings.Join(parts, " ")
	}
	return command.POSIXQuoter.Quote(fmt.Sprint(v))
}

// Cwd sets the working directory, resolved on the target.
func (p *ProcessPromise) Cwd(path string) *ProcessPromise {
	return p.addOpt(command.WithCwd(path))
}

// Env overlays the given environment variables. They are taken from a map,
// so their order relative to each other is not defined.
func (p *ProcessPromise) Env(vars map[string]string) *ProcessPromise {
	return p.EnvMode(command.EnvOverlay, vars)
}

// EnvMode overlays/replaces the environment under the given mode.
func (p *ProcessPromise) EnvMode(mode command.EnvMode, vars map[string]string) *ProcessPromise {
	ev := make([]command.EnvVar, 0, len(vars))
	for k, v := range vars {
		ev = append(ev, command.EnvVar{Name: k, Value: v})
	}
	return p.addOpt(command.WithEnv(mode, ev...))
}

// Timeout sets the total wall-clock budget for the run.
func (p *ProcessPromise) Timeout(d time.Duration) *ProcessPromise {
	return p.addOpt(command.WithTimeout(d))
}

// KillSignal overrides the default TERM signal sent on timeout/cancel.
func (p *ProcessPromise) KillSignal(sig string) *ProcessPromise {
	return p.addOpt(command.WithKillSignal(sig))
}

// ShellMode selects, disables, or names the shell a Shell() command runs
// under. Call after Shell()/Shellf(): options apply in order and this one
// only changes a Shell command that is already set, so called before them
// (or with an Exec command) it has no effect.
func (p *ProcessPromise) ShellMode(name string, mode command.ShellMode) *ProcessPromise {
	p.mu.Lock()
	p.opts = append(p.opts, func(s *command.RunSpec) error {
		if s.Command.Shell != nil {
			s.Command.Shell.Mode = mode
			s.Command.Shell.Name = name
		}
		return nil
	})
	p.mu.Unlock()
	return p
}

// StdinBytes sets stdin to a fixed byte payload.
func (p *ProcessPromise) StdinBytes(b []byte) *ProcessPromise {
	return p.addOpt(command.WithStdinBytes(b))
}

// StdinString sets stdin to a fixed string payload.
func (p *ProcessPromise) StdinString(s string) *ProcessPromise {
	return p.addOpt(command.WithStdinBytes([]byte(s)))
}

// StdinStream sets stdin to a live reader.
func (p *ProcessPromise) StdinStream(r io.Reader) *ProcessPromise {
	return p.addOpt(command.WithStdinStream(r))
}

// Pipe either redirects stdout to an io.Writer, or — when given another
// ProcessPromise — wires this promise's captured stdout as that builder's
// stdin, forming a pipeline, and returns the downstream builder so the
// chain reads left to right (`a.Pipe(b)` behaves like `a | b`).
func (p *ProcessPromise) Pipe(sinkOrBuilder interface{}) *ProcessPromise {
	switch v := sinkOrBuilder.(type) {
	case io.Writer:
		return p.addOpt(command.WithStdoutRouting(command.Routing{Kind: command.RouteSink, Writer: v}))
	case *ProcessPromise:
		v.stdinFrom = p
		return v
	default:
		return p.fail(fmt.Errorf("xec: Pipe: unsupported sink type %T", sinkOrBuilder))
	}
}

// Quiet discards both stdout and stderr.
func (p *ProcessPromise) Quiet() *ProcessPromise { return p.addOpt(command.WithQuiet()) }

// Verbose inherits both stdout and stderr to the calling process's streams.
func (p *ProcessPromise) Verbose() *ProcessPromise { return p.addOpt(command.WithVerbose()) }

// NoThrow converts a non-zero exit into a Result rather than a CommandError.
func (p *ProcessPromise) NoThrow() *ProcessPromise { return p.addOpt(command.WithNoThrow()) }

// MaxBuffer overrides the cap on captured stdout/stderr.
func (p *ProcessPromise) MaxBuffer(n int64) *ProcessPromise {
	return p.addOpt(command.WithMaxBuffer(n))
}

// Sudo enables sudo elevation for SSH runs.
func (p *ProcessPromise) Sudo(opts command.SudoOptions) *ProcessPromise {
	return p.addOpt(command.WithSudo(opts))
}

// Cancel links an external cancellation token into the run.
func (p *ProcessPromise) Cancel(ctx context.Context) *ProcessPromise {
	return p.addOpt(command.WithCancel(ctx))
}

// Retry wraps execution with exponential backoff per opts, retrying only
// errors whose Kind is in opts.Classes (default: spawn/connect/command).
func (p *ProcessPromise) Retry(opts RetryOptions) *ProcessPromise {
	p.mu.Lock()
	p.retryOpts = &opts
	p.mu.Unlock()
	return p
}

// Await freezes the accumulated options into a RunSpec on first call,
// dispatches it through the Engine, and memoizes the Result. Repeated
// Awaits return the same Result/error without re-running anything.
func (p *ProcessPromise) Await(ctx context.Context) (*command.Result, error) {
	p.once.Do(func() {
		p.result, p.runErr = p.run(ctx)
	})
	return p.result, p.runErr
}

func (p *ProcessPromise) run(ctx context.Context) (*command.Result, error) {
	p.mu.Lock()
	buildErr := p.buildErr
	opts := append([]command.Option{}, p.opts...)
	retryOpts := p.retryOpts
	stdinFrom := p.stdinFrom
	p.mu.Unlock()

	if buildErr != nil {
		return nil, buildErr
	}

	if stdinFrom != nil {
		upstream, err := stdinFrom.Await(ctx)
		if err != nil {
			return nil, fmt.Errorf("xec: upstream pipeline stage failed: %w", err)
		}
		opts = append(opts, command.WithStdinBytes(append([]byte{}, upstream.Stdout...)))
	}

	spec, err := command.NewSpec(opts...)
	if err != nil {
		return nil, err
	}

	if retryOpts == nil {
		return p.engine.Run(ctx, p.target, spec)
	}
	return runWithRetry(ctx, p.engine, p.target, spec, *retryOpts)
}

// CapturedOutput is a convenience for template interpolation and pipelines:
// it returns stdout from the memoized Result, trimmed of all trailing
// newlines, matching shell command-substitution semantics.
func (p *ProcessPromise) CapturedOutput(ctx context.Context) (string, error) {
	res, err := p.Await(ctx)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(res.Stdout, "\n")), nil
}
