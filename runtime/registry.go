package runtime

import (
	"sync"

	"chat-relay/contract"
	"chat-relay/domain"
)

// roomEntry guards one room. A closed entry has been emptied and is about to be
// dropped from the registry; joiners must fetch a fresh one.
type roomEntry struct {
	mu     sync.Mutex
	room   *domain.Room
	sinks  map[domain.ConnectionID]contract.EventSink
	closed bool
}

func (e *roomEntry) activeSinks() []contract.EventSink {
	sinks := make([]contract.EventSink, 0, len(e.sinks))
	for _, id := range e.room.Members() {
		if sink, ok := e.sinks[id]; ok {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

type binding struct {
	projectID   domain.ProjectID
	displayName string
}

// Registry maps projects to rooms and connections to the room they joined.
// Lock order is always room entry first, then registry.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[domain.ProjectID]*roomEntry
	bindings map[domain.ConnectionID]binding
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[domain.ProjectID]*roomEntry),
		bindings: make(map[domain.ConnectionID]binding),
	}
}

// acquire returns the entry of a room, initializing it on the fly.
func (r *Registry) acquire(projectID domain.ProjectID) *roomEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[projectID]
	if !ok {
		entry = &roomEntry{
			room:  domain.NewRoom(projectID),
			sinks: make(map[domain.ConnectionID]contract.EventSink),
		}
		r.rooms[projectID] = entry
	}
	return entry
}

func (r *Registry) lookup(projectID domain.ProjectID) (*roomEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.rooms[projectID]
	return entry, ok
}

// release drops a closed room unless it has already been replaced.
func (r *Registry) release(projectID domain.ProjectID, entry *roomEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.rooms[projectID]; ok && current == entry {
		delete(r.rooms, projectID)
	}
}

func (r *Registry) bind(id domain.ConnectionID, b binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[id] = b
}

// unbind forgets a connection only if it is still bound to projectID.
func (r *Registry) unbind(id domain.ConnectionID, projectID domain.ProjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[id]; ok && b.projectID == projectID {
		delete(r.bindings, id)
	}
}

func (r *Registry) bindingOf(id domain.ConnectionID) (binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[id]
	return b, ok
}

// Size returns the number of live rooms and bound connections.
func (r *Registry) Size() (rooms int, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.bindings)
}
