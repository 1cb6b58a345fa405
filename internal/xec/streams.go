package xec

import (
	"errors"
	"io"
	"os"
	"strings"

	mobyterm "github.com/moby/term"
)

// Streams bundles standard input/output/error streams with TTY detection.
// The adapters do not use it for Inherit routing; they write Inherit output
// to os.Stdout/os.Stderr directly.
type Streams interface {
	In() *In
	Out() *Out
	Err() io.Writer
	io.Closer
}

type commonStream struct {
	fd         uintptr
	isTerminal bool
	state      *mobyterm.State
}

func (s *commonStream) FD() uintptr         { return s.fd }
func (s *commonStream) IsTerminal() bool    { return s.isTerminal }
func (s *commonStream) RestoreTerminal() {
	if s.state != nil {
		_ = mobyterm.RestoreTerminal(s.fd, s.state)
	}
}
func (s *commonStream) SetIsTerminal(v bool) { s.isTerminal = v }

// Out is an output stream.
type Out struct {
	commonStream
	out io.Writer
}

func (o *Out) Write(p []byte) (int, error) { return o.out.Write(p) }

// SetRawTerminal sets raw mode on the output terminal.
func (o *Out) SetRawTerminal() (err error) {
	if os.Getenv("NORAW") != "" || !o.isTerminal {
		return nil
	}
	o.state, err = mobyterm.SetRawTerminalOutput(o.fd)
	return err
}

// GetTtySize returns the height and width of the tty, or 0,0 if not a terminal.
func (o *Out) GetTtySize() (uint, uint) {
	if !o.isTerminal {
		return 0, 0
	}
	ws, err := mobyterm.GetWinsize(o.fd)
	if err != nil || ws == nil {
		return 0, 0
	}
	return uint(ws.Height), uint(ws.Width)
}

// Writer returns the wrapped writer.
func (o *Out) Writer() io.Writer { return o.out }

// NewOut wraps an [io.Writer] as an [Out] stream.
func NewOut(out io.Writer) *Out {
	fd, isTerminal := mobyterm.GetFdInfo(out)
	return &Out{commonStream: commonStream{fd: fd, isTerminal: isTerminal}, out: out}
}

// In is an input stream.
type In struct {
	commonStream
	in io.ReadCloser
}

func (i *In) Read(p []byte) (int, error) { return i.in.Read(p) }
func (i *In) Close() error                { return i.in.Close() }

// SetRawTerminal sets raw mode on the input terminal.
func (i *In) SetRawTerminal() (err error) {
	if os.Getenv("NORAW") != "" || !i.isTerminal {
		return nil
	}
	i.state, err = mobyterm.SetRawTerminal(i.fd)
	return err
}

// CheckTty rejects attaching a TTY container to a non-terminal input stream.
func (i *In) CheckTty(attachStdin, ttyMode bool) error {
	if ttyMode && attachStdin && !i.isTerminal {
		return errors.New("the input device is not a TTY")
	}
	return nil
}

// Reader returns the wrapped reader.
func (i *In) Reader() io.ReadCloser { return i.in }

// NewIn wraps an [io.ReadCloser] as an [In] stream.
func NewIn(in io.ReadCloser) *In {
	fd, isTerminal := mobyterm.GetFdInfo(in)
	return &In{commonStream: commonStream{fd: fd, isTerminal: isTerminal}, in: in}
}

type stdStreams struct {
	in  *In
	out *Out
	err io.Writer
}

func (s *stdStreams) In() *In        { return s.in }
func (s *stdStreams) Out() *Out      { return s.out }
func (s *stdStreams) Err() io.Writer { return s.err }

func (s *stdStreams) Close() error {
	if err := s.in.Close(); err != nil {
		return err
	}
	if c, ok := s.out.out.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	if c, ok := s.err.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// StreamsModifierFn decorates streams at construction, e.g. to add masking.
type StreamsModifierFn func(s *stdStreams)

// NewStreams builds [Streams] from raw in/out/err, applying modifiers in order.
func NewStreams(in io.ReadCloser, out, err io.Writer, fns ...StreamsModifierFn) Streams {
	if in == nil {
		in = io.NopCloser(strings.NewReader(""))
	}
	s := &stdStreams{in: NewIn(in), out: NewOut(out), err: err}
	for _, fn := range fns {
		fn(s)
	}
	return s
}

// StdStreams returns [Streams] wired to the process's real stdin/stdout/stderr.
func StdStreams(mask *SensitiveMask) Streams {
	in, out, errw := mobyterm.StdStreams()
	var mods []StreamsModifierFn
	if mask != nil {
		mods = append(mods, WithSensitiveMask(mask))
	}
	return NewStreams(in, out, errw, mods...)
}

// NoopStreams discards stdout/stderr and never yields stdin.
func NoopStreams() Streams {
	return NewStreams(nil, io.Discard, io.Discard)
}

// WithSensitiveMask decorates streams so secrets never reach a live Inherit/Tee sink.
func WithSensitiveMask(m *SensitiveMask) StreamsModifierFn {
	return func(s *stdStreams) {
		s.out.out = NewMaskingWriter(s.out.out, m)
		s.err = NewMaskingWriter(s.err, m)
	}
}
