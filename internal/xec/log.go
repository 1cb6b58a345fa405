// Package xec holds ambient infrastructure shared by the engine: logging,
// stdio streams, sensitive-data masking, signal plumbing and filesystem
// helpers. It has no knowledge of targets or adapters.
package xec

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/pterm/pterm"
)

var defaultLogger atomic.Pointer[Logger]

func init() {
	// By default, don't output any logs.
	SetLogger(NewTextHandlerLogger(io.Discard))
}

// Slog is an alias for a go structured logger [slog.Logger] to reduce visible dependencies.
type Slog = slog.Logger

// Logger is a logger and its config holder struct.
type Logger struct {
	*Slog
	LogOptions
}

// LogLevel is the importance or severity of a log event.
type LogLevel int

// Log levels.
const (
	LogLevelDisabled LogLevel = iota // LogLevelDisabled never prints.
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// String implements [fmt.Stringer].
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "NONE"
	}
}

// LogOptions is a common interface to allow adjusting the logger.
type LogOptions interface {
	Level() LogLevel
	SetLevel(l LogLevel)
	SetOutput(w io.Writer)
}

type slogOpts struct {
	io.Writer
	*slog.LevelVar
	LogLevel
}

func (o *slogOpts) Level() LogLevel { return o.LogLevel }

func (o *slogOpts) SetLevel(l LogLevel) {
	o.LogLevel = l
	o.LevelVar.Set(o.mapLevel(l))
}

func (o *slogOpts) SetOutput(w io.Writer) { o.Writer = w }

func (o *slogOpts) mapLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDisabled:
		return slog.Level(100)
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		panic(fmt.Sprintf("mapping for LogLevel(%d) is missing for slog", l))
	}
}

type ptermOpts struct {
	pterm *pterm.Logger
	lvl   LogLevel
}

func (o *ptermOpts) Level() LogLevel { return o.lvl }

func (o *ptermOpts) SetLevel(l LogLevel) {
	o.lvl = l
	o.pterm.Level = o.mapLevel(l)
}

func (o *ptermOpts) SetOutput(w io.Writer) { o.pterm.Writer = w }

func (o *ptermOpts) mapLevel(l LogLevel) pterm.LogLevel {
	switch l {
	case LogLevelDisabled:
		return pterm.LogLevelDisabled
	case LogLevelDebug:
		return pterm.LogLevelDebug
	case LogLevelInfo:
		return pterm.LogLevelInfo
	case LogLevelWarn:
		return pterm.LogLevelWarn
	case LogLevelError:
		return pterm.LogLevelError
	default:
		panic(fmt.Sprintf("mapping for LogLevel(%d) is missing for pterm", l))
	}
}

func newSlogOpts(w io.Writer) (*slogOpts, *slog.HandlerOptions) {
	opts := &slogOpts{Writer: w, LevelVar: &slog.LevelVar{}}
	handlerOpts := &slog.HandlerOptions{Level: opts.LevelVar}
	return opts, handlerOpts
}

// NewConsoleLogger creates a human-friendly console logger, for demo binaries
// and interactive use of the engine.
func NewConsoleLogger(w io.Writer) *Logger {
	l := pterm.DefaultLogger
	opts := &ptermOpts{pterm: &l}
	opts.SetOutput(w)
	return &Logger{
		Slog:       slog.New(pterm.NewSlogHandler(opts.pterm)),
		LogOptions: opts,
	}
}

// NewTextHandlerLogger creates a logger with plain slog text output.
func NewTextHandlerLogger(w io.Writer) *Logger {
	opts, handlerOpts := newSlogOpts(w)
	return &Logger{
		Slog:       slog.New(slog.NewTextHandler(opts, handlerOpts)),
		LogOptions: opts,
	}
}

// NewJSONHandlerLogger creates a logger with JSON slog output, for machine-consumed logs.
func NewJSONHandlerLogger(w io.Writer) *Logger {
	opts, handlerOpts := newSlogOpts(w)
	return &Logger{
		Slog:       slog.New(slog.NewJSONHandler(opts, handlerOpts)),
		LogOptions: opts,
	}
}

// Log returns the default logger.
func Log() *Logger { return defaultLogger.Load() }

// SetLogger sets the default logger.
func SetLogger(l *Logger) { defaultLogger.Store(l) }
