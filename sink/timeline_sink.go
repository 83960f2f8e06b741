package sink

import (
	"context"
	"sync"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

// Timeline holds a simple local timeline of everything a connection received
type Timeline struct {
	id     domain.ConnectionID
	mu     sync.Mutex
	events []event.Event
}

func NewTimeline(id domain.ConnectionID) *Timeline {
	return &Timeline{id: id}
}

func (t *Timeline) ID() domain.ConnectionID {
	return t.id
}

func (t *Timeline) Consume(_ context.Context, e event.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	return nil
}

func (t *Timeline) Events() []event.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]event.Event(nil), t.events...)
}

// Messages keeps only the received chat messages, in arrival order.
func (t *Timeline) Messages() []domain.Message {
	var messages []domain.Message
	for _, e := range t.Events() {
		if evt, ok := e.(event.ReceiveMessage); ok {
			messages = append(messages, evt.Message)
		}
	}
	return messages
}
