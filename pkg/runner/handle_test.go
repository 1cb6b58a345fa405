package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchrctl/xec/pkg/command"
)

type fakeWaiter struct {
	exitCode int
	signal   string
	err      error

	// block, when non-nil, makes Wait hang until it is closed — used to
	// simulate a still-running process for the Kill test. started closes as
	// soon as Wait is entered, so callers can synchronize before signalling.
	block   chan struct{}
	started chan struct{}

	mu          sync.Mutex
	closed      bool
	signalsSent []string
}

func (w *fakeWaiter) Wait() (int, string, error) {
	if w.started != nil {
		close(w.started)
	}
	if w.block != nil {
		<-w.block
	}
	return w.exitCode, w.signal, w.err
}

func (w *fakeWaiter) Signal(sig string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signalsSent = append(w.signalsSent, sig)
	return nil
}
func (w *fakeWaiter) Resize(uint16, uint16) error { return nil }
func (w *fakeWaiter) Close() error                { w.mu.Lock(); defer w.mu.Unlock(); w.closed = true; return nil }

func (w *fakeWaiter) sentSignals() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.signalsSent...)
}

func newHandle(w *fakeWaiter) *Handle {
	stdout := NewStreamBuf(command.CaptureRouting(), command.DefaultMaxBuffer)
	stderr := NewStreamBuf(command.CaptureRouting(), command.DefaultMaxBuffer)
	return New(command.LocalTarget{}, "echo hi", w, stdout, stderr, nil, "TERM", 0)
}

func TestHandleWaitClassifiesCleanExit(t *testing.T) {
	h := newHandle(&fakeWaiter{exitCode: 0})
	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, Exited, h.State())
}

func TestHandleWaitClassifiesNonZeroExitWithoutError(t *testing.T) {
	h := newHandle(&fakeWaiter{exitCode: 7})
	res, err := h.Wait(context.Background())
	require.NoError(t, err) // non-zero exit is not itself a wait error; Engine decides whether to throw
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, Exited, h.State())
}

func TestHandleWaitClassifiesSignalled(t *testing.T) {
	h := newHandle(&fakeWaiter{exitCode: -1, signal: "KILL"})
	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "KILL", res.Signal)
	assert.Equal(t, Signalled, h.State())
}

func TestHandleWaitClassifiesFailedOnTransportError(t *testing.T) {
	transportErr := errors.New("connection reset")
	h := newHandle(&fakeWaiter{exitCode: -1, err: transportErr})
	_, err := h.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transportErr)
	assert.Equal(t, Failed, h.State())
}

func TestHandleWaitClassifiesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHandle(&fakeWaiter{exitCode: -1})
	_, err := h.Wait(ctx)
	require.Error(t, err)

	var cmdErr *command.Error
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, command.KindCancelled, cmdErr.Kind)
	assert.Equal(t, Cancelled, h.State())
}

func TestHandleWaitClassifiesTimedOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	h := newHandle(&fakeWaiter{exitCode: -1})
	_, err := h.Wait(ctx)
	require.Error(t, err)

	var cmdErr *command.Error
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, command.KindTimeout, cmdErr.Kind)
	assert.Equal(t, TimedOut, h.State())
}

func TestHandleWaitMemoizesResultAcrossCalls(t *testing.T) {
	w := &fakeWaiter{exitCode: 3}
	h := newHandle(w)

	res1, err1 := h.Wait(context.Background())
	res2, err2 := h.Wait(context.Background())

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Same(t, res1, res2)
	assert.Len(t, w.sentSignals(), 0) // Wait with a live ctx never signals; only Kill or ctx expiry does
}

func TestHandleCloseDelegatesToWaiter(t *testing.T) {
	w := &fakeWaiter{exitCode: 0}
	h := newHandle(w)
	_, err := h.Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.True(t, w.closed)
}

func TestHandleKillSendsKillSignalThenEscalatesOnTimeout(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	w := &fakeWaiter{exitCode: -1, signal: "KILL", block: block, started: started}
	stdout := NewStreamBuf(command.CaptureRouting(), command.DefaultMaxBuffer)
	stderr := NewStreamBuf(command.CaptureRouting(), command.DefaultMaxBuffer)
	h := New(command.LocalTarget{}, "sleep 100", w, stdout, stderr, nil, "TERM", 10*time.Millisecond)

	waitDone := make(chan struct{})
	go func() {
		_, _ = h.Wait(context.Background())
		close(waitDone)
	}()
	<-started // Running is set before Wait calls into the waiter

	// The process never exits within gracePeriod (block stays open), so Kill
	// escalates past TERM to KILL once its timer fires.
	require.NoError(t, h.Kill())
	assert.Equal(t, Cancelled, h.State())
	assert.Equal(t, []string{"TERM", "KILL"}, w.sentSignals())

	close(block) // let the blocked Wait goroutine finish so the test can exit cleanly
	<-waitDone
}
