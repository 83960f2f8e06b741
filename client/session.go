package client

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"

	"github.com/google/uuid"
)

// Session is the client state of one project chat. Live events that arrive
// before the history is loaded are queued and replayed after it.
type Session struct {
	mu         sync.Mutex
	projectID  domain.ProjectID
	selfID     string
	tolerance  time.Duration
	now        func() time.Time
	seq        uint64
	loaded     bool
	queued     []event.Event
	confirmed  []Entry
	pending    []Pending
	system     []Entry
	tombstones map[uuid.UUID]struct{}
	presence   map[string]struct{}
	typing     map[string]struct{}
}

type SessionOption func(*Session)

func WithTolerance(tolerance time.Duration) SessionOption {
	return func(s *Session) { s.tolerance = tolerance }
}

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func NewSession(projectID domain.ProjectID, selfID string, options ...SessionOption) *Session {
	s := &Session{
		projectID:  projectID,
		selfID:     selfID,
		tolerance:  DefaultTolerance,
		now:        time.Now,
		tombstones: make(map[uuid.UUID]struct{}),
		presence:   make(map[string]struct{}),
		typing:     make(map[string]struct{}),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// BeginSend records a provisional copy of an outgoing message and returns the
// client key that will correlate it with the confirmed one.
func (s *Session) BeginSend(text, image string) (string, domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	provisional := domain.Message{
		ProjectID: s.projectID,
		SenderID:  s.selfID,
		Kind:      domain.KindText,
		Body:      text,
		CreatedAt: s.now().UTC(),
	}
	if image != "" {
		provisional.Kind = domain.KindImage
		provisional.Body = image
	}
	key := uuid.NewString()
	s.pending = append(s.pending, Pending{ClientKey: key, Message: provisional, Seq: s.next()})
	return key, provisional
}

// ConfirmSend replaces the provisional copy with what the log stored.
func (s *Session) ConfirmSend(clientKey string, message domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.takePending(clientKey)
	if !ok {
		seq = s.next()
	}
	s.confirmed = append(s.confirmed, Entry{Message: message, ClientKey: clientKey, Seq: seq})
}

// FailSend drops the provisional copy of a write that did not make it to the log.
func (s *Session) FailSend(clientKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.takePending(clientKey)
}

// LoadHistory adds the durable log and replays the queued live events.
func (s *Session) LoadHistory(messages []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range messages {
		s.confirmed = append(s.confirmed, Entry{Message: m, Seq: s.next()})
	}
	s.loaded = true
	queued := s.queued
	s.queued = nil
	for _, e := range queued {
		s.apply(e)
	}
}

// Reconnecting puts the session back in queueing mode until the next history load.
// Known messages are kept, presence is rebuilt from scratch and events queued
// by an earlier attempt are dropped.
func (s *Session) Reconnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.queued = nil
	s.presence = make(map[string]struct{})
	s.typing = make(map[string]struct{})
}

func (s *Session) Apply(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Project() != "" && e.Project() != s.projectID {
		return
	}
	if !s.loaded {
		s.queued = append(s.queued, e)
		return
	}
	s.apply(e)
}

func (s *Session) apply(e event.Event) {
	switch evt := e.(type) {
	case event.ReceiveMessage:
		if !evt.Message.IsProvisional() {
			s.confirmed = append(s.confirmed, Entry{Message: evt.Message, ClientKey: evt.ClientKey, Seq: s.next()})
			return
		}
		// Relayed without an id: either our own echo or somebody else's unconfirmed send
		if evt.ClientKey != "" && s.hasPending(evt.ClientKey) {
			return
		}
		s.pending = append(s.pending, Pending{ClientKey: evt.ClientKey, Message: evt.Message, Seq: s.next(), RelayedAt: s.now()})
	case event.MessageDeleted:
		s.tombstones[evt.MessageID] = struct{}{}
	case event.UserJoined:
		s.presence[evt.DisplayName] = struct{}{}
		s.announce(fmt.Sprintf("👋 %s joined the chat.", evt.DisplayName))
	case event.UserLeft:
		delete(s.presence, evt.DisplayName)
		delete(s.typing, evt.DisplayName)
		s.announce(fmt.Sprintf("👋 %s left the chat.", evt.DisplayName))
	case event.Typing:
		if evt.Typing {
			s.typing[evt.DisplayName] = struct{}{}
		} else {
			delete(s.typing, evt.DisplayName)
		}
	}
}

// Messages is the rendered timeline.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireRelayed()

	tombstones := make(map[uuid.UUID]struct{}, len(s.tombstones))
	for id := range s.tombstones {
		tombstones[id] = struct{}{}
	}
	return Merge(Snapshot{
		Confirmed:  append([]Entry(nil), s.confirmed...),
		Pending:    append([]Pending(nil), s.pending...),
		System:     append([]Entry(nil), s.system...),
		Tombstones: tombstones,
		Tolerance:  s.tolerance,
	})
}

// SetPresence replaces the online list with a server snapshot. Later
// userJoined/userLeft events keep updating it.
func (s *Session) SetPresence(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = make(map[string]struct{}, len(names))
	for _, name := range names {
		s.presence[name] = struct{}{}
	}
}

func (s *Session) Presence() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.presence)
}

func (s *Session) Typing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.typing)
}

func (s *Session) announce(text string) {
	s.system = append(s.system, Entry{Message: domain.SystemMessage(s.projectID, text, s.now().UTC()), Seq: s.next()})
}

// expireRelayed drops copies relayed by others that no confirmed message claimed
// in time. Nothing stored them, so they must not stay on screen.
func (s *Session) expireRelayed() {
	now, tolerance := s.now(), s.tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	kept := s.pending[:0]
	for _, p := range s.pending {
		if !p.RelayedAt.IsZero() && now.Sub(p.RelayedAt) > tolerance {
			continue
		}
		kept = append(kept, p)
	}
	s.pending = kept
}

func (s *Session) next() uint64 {
	s.seq++
	return s.seq
}

func (s *Session) hasPending(clientKey string) bool {
	for _, p := range s.pending {
		if p.ClientKey == clientKey {
			return true
		}
	}
	return false
}

func (s *Session) takePending(clientKey string) (uint64, bool) {
	for i, p := range s.pending {
		if p.ClientKey == clientKey {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return p.Seq, true
		}
	}
	return 0, false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
