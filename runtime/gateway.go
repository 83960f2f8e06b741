package runtime

import (
	"context"
	stderrors "errors"
	"log/slog"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
)

var _ contract.IGateway = (*Gateway)(nil)

// Gateway owns the live rooms. Membership changes and fan-out of a room are
// serialized by that room's lock, so every member sees the room's events in
// the same order. Rooms never wait on each other.
type Gateway struct {
	log        *slog.Logger
	registry   *Registry
	monitoring *observability.MonitoringManager
}

func NewGateway(log *slog.Logger, registry *Registry, monitoring *observability.MonitoringManager) *Gateway {
	return &Gateway{log: log, registry: registry, monitoring: monitoring}
}

// Join adds the connection to a room and announces it to every member,
// the joiner included. A connection lives in one room at a time.
func (g *Gateway) Join(ctx context.Context, sink contract.EventSink, projectID domain.ProjectID, displayName string) {
	id := sink.ID()
	if previous, ok := g.registry.bindingOf(id); ok && previous.projectID != projectID {
		g.Leave(ctx, sink, previous.projectID, previous.displayName)
	}

	for {
		entry := g.registry.acquire(projectID)
		entry.mu.Lock()
		if entry.closed {
			entry.mu.Unlock()
			continue
		}
		entry.room.Join(domain.Participant{ConnectionID: id, DisplayName: displayName})
		entry.sinks[id] = sink
		g.registry.bind(id, binding{projectID: projectID, displayName: displayName})
		g.fanout(ctx, entry, event.UserJoined{ProjectID: projectID, DisplayName: displayName})
		entry.mu.Unlock()

		g.monitoring.IncrJoins()
		g.log.Debug("Connection joined room", "connection_id", id, "project_id", projectID, "display_name", displayName)
		return
	}
}

// Leave removes the connection and announces it to the members left behind.
// The last one out drops the room.
func (g *Gateway) Leave(ctx context.Context, sink contract.EventSink, projectID domain.ProjectID, displayName string) {
	id := sink.ID()
	entry, ok := g.registry.lookup(projectID)
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.closed || !entry.room.Has(id) {
		entry.mu.Unlock()
		return
	}
	if displayName == "" {
		displayName, _ = entry.room.DisplayName(id)
	}
	entry.room.Leave(id)
	delete(entry.sinks, id)
	g.registry.unbind(id, projectID)

	empty := entry.room.IsEmpty()
	if empty {
		entry.closed = true
	} else {
		g.fanout(ctx, entry, event.UserLeft{ProjectID: projectID, DisplayName: displayName})
	}
	entry.mu.Unlock()

	if empty {
		g.registry.release(projectID, entry)
		g.log.Debug("Room dropped", "project_id", projectID)
	}
	g.monitoring.IncrLeaves()
	g.log.Debug("Connection left room", "connection_id", id, "project_id", projectID, "display_name", displayName)
}

// Disconnect is an implicit leave of whatever room the connection was in.
func (g *Gateway) Disconnect(ctx context.Context, sink contract.EventSink) {
	b, ok := g.registry.bindingOf(sink.ID())
	if !ok {
		return
	}
	g.Leave(ctx, sink, b.projectID, b.displayName)
}

// Broadcast hands the event, unchanged, to every current member of the room,
// sender included. It returns how many connections accepted it.
func (g *Gateway) Broadcast(ctx context.Context, projectID domain.ProjectID, e event.Event) int {
	entry, ok := g.registry.lookup(projectID)
	if !ok {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return 0
	}
	g.monitoring.IncrBroadcasts()
	return g.fanout(ctx, entry, e)
}

func (g *Gateway) TypingNotice(ctx context.Context, projectID domain.ProjectID, displayName string, isTyping bool) int {
	return g.Broadcast(ctx, projectID, event.Typing{ProjectID: projectID, DisplayName: displayName, Typing: isTyping})
}

func (g *Gateway) Presence(projectID domain.ProjectID) []string {
	entry, ok := g.registry.lookup(projectID)
	if !ok {
		return []string{}
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return []string{}
	}
	return entry.room.Presence()
}

func (g *Gateway) RoomOf(id domain.ConnectionID) (domain.ProjectID, bool) {
	b, ok := g.registry.bindingOf(id)
	return b.projectID, ok
}

// Stats returns the number of live rooms and joined connections.
func (g *Gateway) Stats() (rooms int, connections int) {
	return g.registry.Size()
}

// fanout must be called with entry.mu held. Unreachable connections are
// skipped, they never fail the caller.
func (g *Gateway) fanout(ctx context.Context, entry *roomEntry, e event.Event) int {
	delivered, dropped := 0, 0
	for _, sink := range entry.activeSinks() {
		if err := sink.Consume(ctx, e); err != nil {
			dropped++
			if !stderrors.Is(err, errors.ErrTransport) {
				g.log.Warn("Unexpected sink error", "connection_id", sink.ID(), "error", err)
				continue
			}
			g.log.Debug("Event not delivered", "connection_id", sink.ID(), "event", e.Type(), "error", err)
			continue
		}
		delivered++
	}
	g.monitoring.AddDelivered(delivered)
	g.monitoring.AddDropped(dropped)
	return delivered
}
