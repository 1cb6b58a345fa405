package xec

import (
	"context"
	"fmt"
	"io"

	"github.com/launchrctl/xec/pkg/adapter"
	"github.com/launchrctl/xec/pkg/command"
	"github.com/launchrctl/xec/pkg/pool"
)

// Engine is the top-level façade: it owns the adapters and the pool, routes
// a frozen RunSpec to the right Adapter, and fans run events out over the
// Bus. Grounded on the teacher's `core/cli.Cli` as the one object that wires
// together the concerns an app-level entry point needs (here: adapters +
// pool + bus instead of plugins + commands).
type Engine struct {
	pool     *pool.Pool
	local    adapter.Adapter
	ssh      adapter.Adapter
	docker   adapter.Adapter
	kube     adapter.Adapter
	bus      *Bus
	defaults []command.Option
}

// Options configures a new Engine.
type Options struct {
	Pool  pool.Options
	Shell string // LocalAdapter's default shell, empty means platform default
}

// New builds an Engine with its own connection pool and one adapter per
// target kind.
func New(opts Options) *Engine {
	p := pool.New(opts.Pool)
	return &Engine{
		pool:   p,
		local:  adapter.NewLocalAdapter(opts.Shell),
		ssh:    adapter.NewSSHAdapter(p),
		docker: adapter.NewDockerAdapter(p),
		kube:   adapter.NewKubernetesAdapter(p),
		bus:    NewBus(),
	}
}

// Bus returns the engine's event bus, for subscribing observers.
func (e *Engine) Bus() *Bus { return e.bus }

// Pool returns the engine's connection pool, mainly for metrics/Drain.
func (e *Engine) Pool() *pool.Pool { return e.pool }

// With returns a new façade whose default options compose with opts;
// right-hand (the new opts) wins on conflicts, per §4.1.
func (e *Engine) With(opts ...command.Option) *Engine {
	clone := *e
	clone.defaults = append(append([]command.Option{}, e.defaults...), opts...)
	return &clone
}

// Local starts a builder targeting the local host.
func (e *Engine) Local() *ProcessPromise {
	return newPromise(e, command.LocalTarget{})
}

// SSH starts a builder targeting a remote host over SSH.
func (e *Engine) SSH(t command.SSHTarget) *ProcessPromise {
	return newPromise(e, t)
}

// Docker starts a builder targeting a Docker container or ephemeral image run.
func (e *Engine) Docker(t command.DockerTarget) *ProcessPromise {
	return newPromise(e, t)
}

// K8s starts a builder targeting a Kubernetes pod.
func (e *Engine) K8s(t command.KubernetesTarget) *ProcessPromise {
	return newPromise(e, t)
}

func (e *Engine) adapterFor(target command.Target) (adapter.Adapter, error) {
	switch target.(type) {
	case command.LocalTarget:
		return e.local, nil
	case command.SSHTarget:
		return e.ssh, nil
	case command.DockerTarget:
		return e.docker, nil
	case command.KubernetesTarget:
		return e.kube, nil
	default:
		return nil, fmt.Errorf("xec: no adapter registered for target type %T", target)
	}
}

// Run dispatches a finalized RunSpec to the right adapter, waits for
// completion, and returns a Result or a *command.Error per §7. It is the
// commit point ("Dispatched" in §4.1's state machine) — target-specific
// adapters take ownership of the run from here.
func (e *Engine) Run(ctx context.Context, target command.Target, spec *command.RunSpec) (*command.Result, error) {
	a, err := e.adapterFor(target)
	if err != nil {
		return nil, command.NewError(command.KindSpawn, target, spec.Command.String(), err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Cancel != nil {
		runCtx, cancel = mergeContexts(ctx, spec.Cancel)
		defer cancel()
	}
	if spec.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, spec.Timeout)
		defer timeoutCancel()
	}

	e.bus.emit(Event{Kind: EventStart, Target: target.Describe(), Command: spec.Command.String()})
	spec = teeForEvents(spec, target, e.bus)

	h, err := a.Execute(runCtx, target, spec)
	if err != nil {
		e.bus.emit(Event{Kind: EventError, Target: target.Describe(), Command: spec.Command.String(), Err: err})
		return nil, err
	}
	defer h.Close()

	res, waitErr := h.Wait(runCtx)

	if waitErr != nil {
		e.bus.emit(Event{Kind: EventError, Target: target.Describe(), Command: spec.Command.String(), Err: waitErr})
		return res, waitErr
	}

	if res.ExitCode != 0 && spec.ThrowOnNonZero {
		cmdErr := command.NewCommandError(target, spec.Command.String(), res.ExitCode, res.StderrString())
		e.bus.emit(Event{Kind: EventError, Target: target.Describe(), Command: spec.Command.String(), Err: cmdErr})
		return res, cmdErr
	}

	e.bus.emit(Event{Kind: EventEnd, Target: target.Describe(), Command: spec.Command.String(), Result: res})
	return res, nil
}

// mergeContexts links an external cancellation token into ctx: either one
// being done cancels the merged context.
func mergeContexts(ctx context.Context, extra context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-extra.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged, cancel
}

// teeForEvents wraps Capture routing with an additional tee to the bus so
// EventStdout/EventStderr fire without disturbing Result.Stdout/Stderr
// capture or any Inherit/Sink/Tee/Ignore routing the caller already chose.
func teeForEvents(spec *command.RunSpec, target command.Target, bus *Bus) *command.RunSpec {
	cp := *spec
	cp.StdoutRouting = teeRouting(spec.StdoutRouting, target, bus, EventStdout)
	cp.StderrRouting = teeRouting(spec.StderrRouting, target, bus, EventStderr)
	return &cp
}

// teeRouting chains an event-emitting writer behind whatever the caller's
// Routing already does. Capture gains a Tee so chunk events fire without
// losing capture; Sink/Tee keep their own Kind with the event writer
// multiplexed alongside the caller's Writer. Ignore and Inherit are left
// untouched: Ignore discards by design, and Inherit is resolved to the
// calling process's real stdout/stderr down in each adapter's
// buildStdioSinks, which this layer has no handle on.
func teeRouting(r command.Routing, target command.Target, bus *Bus, kind EventKind) command.Routing {
	ew := &eventWriter{bus: bus, target: target, kind: kind}
	switch r.Kind {
	case command.RouteCapture:
		return command.Routing{Kind: command.RouteTee, Writer: ew}
	case command.RouteSink:
		return command.Routing{Kind: command.RouteSink, Writer: io.MultiWriter(ew, r.Writer)}
	case command.RouteTee:
		return command.Routing{Kind: command.RouteTee, Writer: io.MultiWriter(ew, r.Writer)}
	default: // RouteIgnore, RouteInherit
		return r
	}
}

type eventWriter struct {
	bus    *Bus
	target command.Target
	kind   EventKind
}

func (w *eventWriter) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	w.bus.emit(Event{Kind: w.kind, Target: w.target.Describe(), Chunk: chunk})
	return len(p), nil
}
