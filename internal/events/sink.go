// Package events provides the operator event channel the core publishes
// into. Consumers such as log forwarders range over the channel; the core
// never knows what, if anything, renders the events.
package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// EventType classifies an operator event.
type EventType string

// Operator event types published by the core components.
const (
	ClientConnected    EventType = "client_connected"
	ClientDisconnected EventType = "client_disconnected"
	ClientLogin        EventType = "client_login"
	ClientRegister     EventType = "client_register"
	RoomUpdated        EventType = "room_updated"
	ServerError        EventType = "server_error"
)

// Event is one operator notification.
type Event struct {
	// Type classifies the event.
	Type EventType
	// Source identifies the origin, typically a remote address or "SERVER".
	Source string
	// Message is a human-readable description.
	Message string
}

// Sink is a bounded, non-blocking event channel. Publishing never stalls a
// core component: when the buffer is full the event is dropped and counted.
type Sink struct {
	ch      chan Event
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewSink creates a Sink with the given buffer capacity.
//
// Precondition: capacity must be > 0.
func NewSink(capacity int) *Sink {
	return &Sink{ch: make(chan Event, capacity)}
}

// Publish enqueues an event without blocking. Events published after Close,
// or while the buffer is full, are dropped.
func (s *Sink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the sink.
func (s *Sink) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded due to a full buffer.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close closes the channel. Publish remains safe to call afterwards.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// LogConsumer drains a Sink into a zap logger until the sink is closed.
// It is the default operator console replacement: run it in its own
// goroutine from the server binary.
func LogConsumer(sink *Sink, logger *zap.Logger) {
	for e := range sink.Events() {
		logger.Info("server event",
			zap.String("event", string(e.Type)),
			zap.String("source", e.Source),
			zap.String("message", e.Message),
		)
	}
}
