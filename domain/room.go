package domain

import (
	"sort"
)

// Room is the in-memory presence set of one project chat.
// It is not safe for concurrent use; the gateway serializes access per room.
type Room struct {
	ID      ProjectID
	members map[ConnectionID]string
}

func NewRoom(id ProjectID) *Room {
	return &Room{
		ID:      id,
		members: make(map[ConnectionID]string),
	}
}

// Join adds or renames a connection. It reports whether the connection was new.
func (r *Room) Join(p Participant) bool {
	_, exists := r.members[p.ConnectionID]
	r.members[p.ConnectionID] = p.DisplayName
	return !exists
}

// Leave removes a connection and reports whether it was present.
func (r *Room) Leave(id ConnectionID) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

func (r *Room) Has(id ConnectionID) bool {
	_, ok := r.members[id]
	return ok
}

func (r *Room) DisplayName(id ConnectionID) (string, bool) {
	name, ok := r.members[id]
	return name, ok
}

func (r *Room) IsEmpty() bool {
	return len(r.members) == 0
}

func (r *Room) Size() int {
	return len(r.members)
}

func (r *Room) Members() []ConnectionID {
	ids := make([]ConnectionID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// Presence lists display names, sorted, duplicates kept once.
func (r *Room) Presence() []string {
	seen := make(map[string]struct{}, len(r.members))
	names := make([]string, 0, len(r.members))
	for _, name := range r.members {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
