package runner

import (
	"bytes"
	"io"
	"sync"

	"github.com/launchrctl/xec/pkg/command"
)

// StreamBuf is a capped, concurrency-safe sink one output stream (stdout or
// stderr) is copied into. It enforces maxBuffer (invariant #4: captured
// output never exceeds maxBuffer; overrun fails the run with
// BufferOverflowError) and optionally tees to a user-supplied writer for
// Tee/Sink routing (adapters pass Inherit in as a Sink on os.Stdout/os.Stderr).
type StreamBuf struct {
	mu         sync.Mutex
	buf        *bytes.Buffer
	maxBuffer  int64
	tee        io.Writer // nil unless routing is Tee/Sink
	overflow   bool
	onOverflow func()
}

// SetOverflowHandler registers fn to run (in its own goroutine) the first
// time Write exceeds maxBuffer, so a caller can kill the run per invariant
// #4 ("on overrun the process is signalled") instead of just flagging it.
func (s *StreamBuf) SetOverflowHandler(fn func()) {
	s.mu.Lock()
	s.onOverflow = fn
	s.mu.Unlock()
}

// NewStreamBuf builds a sink per the routing's kind: Capture and Tee retain
// bytes in buf (Tee also forwards them), Sink only forwards, Ignore discards.
// Inherit has no case of its own and is retained like Capture.
func NewStreamBuf(routing command.Routing, maxBuffer int64) *StreamBuf {
	s := &StreamBuf{buf: &bytes.Buffer{}, maxBuffer: maxBuffer}
	switch routing.Kind {
	case command.RouteTee:
		s.tee = routing.Writer
	case command.RouteSink:
		s.tee = routing.Writer
		s.maxBuffer = 0 // Sink never retains; only forwards
	case command.RouteIgnore:
		s.maxBuffer = 0
	}
	return s
}

// Write implements io.Writer so adapters can plug a streamBuf directly into
// whatever demultiplexing/copy loop they use.
func (s *StreamBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tee != nil {
		if _, err := s.tee.Write(p); err != nil {
			return 0, err
		}
	}
	if s.maxBuffer == 0 {
		return len(p), nil // Sink/Ignore: forwarded (if tee != nil) or discarded, nothing retained
	}
	if int64(s.buf.Len()+len(p)) > s.maxBuffer {
		wasOverflow := s.overflow
		s.overflow = true
		if !wasOverflow && s.onOverflow != nil {
			go s.onOverflow()
		}
		return 0, command.NewError(command.KindBufferOverflow, command.LocalTarget{}, "", io.ErrShortBuffer)
	}
	return s.buf.Write(p)
}

// Overflowed reports whether maxBuffer was ever exceeded.
func (s *StreamBuf) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}
