package sink

import (
	"context"
	"fmt"
	"sync"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
)

// ConnectionSink is the outbound queue of one live connection. The gateway
// enqueues, the connection writer drains Events().
type ConnectionSink struct {
	id     domain.ConnectionID
	mu     sync.RWMutex
	closed bool
	queue  chan event.Event
}

func NewConnectionSink(id domain.ConnectionID, capacity int) *ConnectionSink {
	if capacity <= 0 {
		capacity = 1
	}
	return &ConnectionSink{id: id, queue: make(chan event.Event, capacity)}
}

func (s *ConnectionSink) ID() domain.ConnectionID {
	return s.id
}

// Consume never blocks: a closed connection or a full queue is a transport error.
func (s *ConnectionSink) Consume(_ context.Context, e event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("connection %s is closed: %w", s.id, errors.ErrTransport)
	}
	select {
	case s.queue <- e:
		return nil
	default:
		return fmt.Errorf("outbound queue of connection %s is full: %w", s.id, errors.ErrTransport)
	}
}

func (s *ConnectionSink) Events() <-chan event.Event {
	return s.queue
}

// Close stops accepting events. Already queued events can still be drained.
func (s *ConnectionSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}
