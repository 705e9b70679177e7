package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/dockhand/dockhand/pkg/types"
)

// Kind is the type of a progress event.
type Kind string

const (
	KindLog      Kind = "log"
	KindProgress Kind = "progress"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Event is the unit of the streaming protocol. Once emitted an event is
// immutable history.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Message is set for log events.
	Message string `json:"message,omitempty"`

	// Percent is set for progress events.
	Percent int `json:"percent,omitempty"`

	// Instance is set for the complete event.
	Instance *types.InstanceDescriptor `json:"instance,omitempty"`

	// Error is set for the error event.
	Error *types.DeployError `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e *Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// Stream is the ordered, bounded queue between one orchestration session
// and one consumer. Emission order is delivery order; after the terminal
// event the stream is closed and further emissions are rejected.
type Stream struct {
	ch chan *Event

	mu   sync.Mutex
	done bool
}

// NewStream creates a stream with the given buffer capacity. Capacity only
// affects how far the producer can run ahead of the consumer; ordering is
// preserved regardless.
func NewStream(capacity int) *Stream {
	if capacity <= 0 {
		capacity = 64
	}
	return &Stream{ch: make(chan *Event, capacity)}
}

// Events returns the receive side of the stream. The channel is closed
// right after the terminal event.
func (s *Stream) Events() <-chan *Event {
	return s.ch
}

// Log emits a free-text transcript line.
func (s *Stream) Log(format string, args ...interface{}) error {
	return s.emit(&Event{Kind: KindLog, Message: fmt.Sprintf(format, args...)})
}

// Progress emits an integer percent checkpoint.
func (s *Stream) Progress(percent int) error {
	return s.emit(&Event{Kind: KindProgress, Percent: percent})
}

// Complete emits the terminal success event and closes the stream.
func (s *Stream) Complete(instance *types.InstanceDescriptor) error {
	return s.emit(&Event{Kind: KindComplete, Instance: instance})
}

// Error emits the terminal failure event and closes the stream.
func (s *Stream) Error(derr *types.DeployError) error {
	return s.emit(&Event{Kind: KindError, Error: derr})
}

func (s *Stream) emit(ev *Event) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return fmt.Errorf("stream closed: cannot emit %s after terminal event", ev.Kind)
	}
	if ev.Terminal() {
		s.done = true
	}
	s.mu.Unlock()

	ev.Timestamp = time.Now()
	s.ch <- ev
	if ev.Terminal() {
		close(s.ch)
	}
	return nil
}

// Closed reports whether a terminal event has been emitted.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
