// Package runner implements RunHandle, the live view of one running command
// shared by every adapter: a stdout/stderr stream pair, an optional stdin
// sink, and Wait/Signal/Kill/Close. Adapters differ in how they spawn a
// process; they converge on this one handle shape once it is running.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/launchrctl/xec/pkg/command"
)

// State is RunHandle's lifecycle position.
type State int

const (
	Starting State = iota
	Running
	Exited
	Signalled
	TimedOut
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Signalled:
		return "signalled"
	case TimedOut:
		return "timed-out"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Waiter is implemented by whatever backs a run (os/exec.Cmd for local, an
// SSH/Docker/Kubernetes exec stream for the remote adapters). RunHandle is
// transport-agnostic; Waiter is where each adapter plugs in its own plumbing.
type Waiter interface {
	// Wait blocks until the remote process exits, returning its exit code
	// (or -1 if killed by signal, in which case signal names it) and any
	// transport-level error.
	Wait() (exitCode int, signal string, err error)
	// Signal best-effort delivers sig to the running process.
	Signal(sig string) error
	// Resize propagates a terminal size change, a no-op for non-TTY runs.
	Resize(rows, cols uint16) error
	// Close releases transport resources (channels, streams, the borrowed
	// Connection). Idempotent.
	Close() error
}

// Handle is RunHandle: the live view of a running command.
type Handle struct {
	Target  command.Target
	Command string

	stdout *StreamBuf
	stderr *StreamBuf
	stdin  io.WriteCloser

	waiter Waiter

	killSignal  string
	gracePeriod time.Duration

	mu       sync.Mutex
	state    State
	result   *command.Result
	waitErr  error
	waitOnce sync.Once
	waitDone chan struct{}

	startedAt time.Time

	resultHooks []func(*command.Result)
}

// OnResult registers fn to run once Result is built but before Wait returns
// it, for fields Result itself has no way to learn from exitCode/signal/err
// alone (e.g. which SSH auth method the handshake actually used).
func (h *Handle) OnResult(fn func(*command.Result)) {
	h.mu.Lock()
	h.resultHooks = append(h.resultHooks, fn)
	h.mu.Unlock()
}

// New wraps waiter into a Handle. stdout/stderr are pre-created sinks the
// adapter writes into as data arrives (see NewStreamBuf);
// stdin may be nil if the run has no stdin.
func New(target command.Target, cmdText string, waiter Waiter, stdout, stderr *StreamBuf, stdin io.WriteCloser, killSignal string, grace time.Duration) *Handle {
	h := &Handle{
		Target:      target,
		Command:     cmdText,
		waiter:      waiter,
		stdout:      stdout,
		stderr:      stderr,
		stdin:       stdin,
		killSignal:  killSignal,
		gracePeriod: grace,
		state:       Starting,
		waitDone:    make(chan struct{}),
		startedAt:   time.Now(),
	}
	stdout.SetOverflowHandler(func() { _ = h.Kill() })
	stderr.SetOverflowHandler(func() { _ = h.Kill() })
	return h
}

// Stdout returns the buffer stdout is captured into. Reads of it are not
// synchronized with the adapter's writes; it is fully populated once Wait
// returns.
func (h *Handle) Stdout() *bytes.Buffer { return h.stdout.buf }

// Stderr returns the buffer stderr is captured into.
func (h *Handle) Stderr() *bytes.Buffer { return h.stderr.buf }

// Stdin returns the writer accepting stdin, or nil if this run has none.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Signal best-effort forwards sig to the underlying process.
func (h *Handle) Signal(sig string) error {
	return h.waiter.Signal(sig)
}

// Resize propagates a TTY size change.
func (h *Handle) Resize(rows, cols uint16) error {
	return h.waiter.Resize(rows, cols)
}

// Kill sends killSignal, waits gracePeriod, then escalates to KILL.
func (h *Handle) Kill() error {
	h.setState(Cancelled)
	return h.sendKillSequence(h.waitDone)
}

// sendKillSequence sends killSignal and, if the process is still around
// after gracePeriod, escalates to KILL. It leaves State untouched so callers
// racing it against Wait's own classification (ctx-driven cancellation,
// buffer overflow) don't clobber the eventual terminal state.
func (h *Handle) sendKillSequence(done <-chan struct{}) error {
	if err := h.waiter.Signal(h.killSignal); err != nil {
		return h.waiter.Signal("KILL")
	}
	timer := time.NewTimer(h.gracePeriod)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return h.waiter.Signal("KILL")
	}
}

// Wait blocks for termination and returns the immutable Result. Repeated
// calls return the same memoized Result (invariant: a RunHandle transitions
// to exactly one terminal state).
func (h *Handle) Wait(ctx context.Context) (*command.Result, error) {
	h.waitOnce.Do(func() {
		h.setState(Running)

		type waitResult struct {
			exitCode int
			signal   string
			err      error
		}
		resultCh := make(chan waitResult, 1)
		resultDone := make(chan struct{})
		go func() {
			exitCode, signal, err := h.waiter.Wait()
			resultCh <- waitResult{exitCode, signal, err}
			close(resultDone)
		}()

		var r waitResult
		select {
		case r = <-resultCh:
		case <-ctx.Done():
			// ctx expired or was externally cancelled before the run
			// finished on its own: escalate killSignal -> gracePeriod ->
			// KILL instead of leaving the remote process running past its
			// deadline (§4.3.1), then wait for the real outcome below.
			_ = h.sendKillSequence(resultDone)
			r = <-resultCh
		}
		exitCode, signal, err := r.exitCode, r.signal, r.err
		close(h.waitDone)

		dur := time.Since(h.startedAt)
		res := &command.Result{
			ExitCode:  exitCode,
			Signal:    signal,
			Stdout:    h.stdout.buf.Bytes(),
			Stderr:    h.stderr.buf.Bytes(),
			StartedAt: h.startedAt,
			Duration:  dur,
			Target:    h.Target.Describe(),
			Command:   h.Command,
		}
		for _, fn := range h.resultHooks {
			fn(res)
		}

		switch {
		case h.stdout.Overflowed() || h.stderr.Overflowed():
			h.setState(Failed)
			h.waitErr = command.NewError(command.KindBufferOverflow, h.Target, h.Command, fmt.Errorf("captured output exceeded maxBuffer"))
		case err != nil:
			h.setState(Failed)
			h.waitErr = err
		case ctx.Err() == context.Canceled:
			h.setState(Cancelled)
			h.waitErr = command.NewError(command.KindCancelled, h.Target, h.Command, ctx.Err())
		case ctx.Err() == context.DeadlineExceeded:
			h.setState(TimedOut)
			h.waitErr = command.NewTimeoutError(h.Target, h.Command, dur)
		case signal != "":
			h.setState(Signalled)
		default:
			h.setState(Exited)
		}
		h.result = res
	})
	return h.result, h.waitErr
}

// Close releases transport resources. Idempotent; safe to call after Wait.
func (h *Handle) Close() error {
	return h.waiter.Close()
}

func (h *Handle) String() string {
	return fmt.Sprintf("Handle{target=%s state=%s}", h.Target.Describe(), h.State())
}
