package client

import (
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"

	"github.com/stretchr/testify/require"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestSession_Queues_Live_Events_Until_History(t *testing.T) {
	req := require.New(t)
	s := NewSession("p1", "alice", WithSessionClock(fixedClock(t0.Add(time.Hour))))

	old := confirmed("bob", "old", t0)
	fresh := confirmed("bob", "fresh", t0.Add(time.Minute))

	s.Apply(event.ReceiveMessage{ProjectID: "p1", Message: fresh})
	s.Apply(event.MessageDeleted{ProjectID: "p1", MessageID: old.ID})
	// Events of another project are ignored
	s.Apply(event.ReceiveMessage{ProjectID: "p2", Message: confirmed("bob", "elsewhere", t0)})
	req.Empty(s.Messages())

	// The history already contains the fresh message too
	s.LoadHistory([]domain.Message{old, fresh})

	messages := s.Messages()
	req.Equal([]string{domain.Tombstone, "fresh"}, bodies(messages))
	req.True(messages[0].Deleted)
}

func TestSession_Send_Lifecycle(t *testing.T) {
	req := require.New(t)
	s := NewSession("p1", "alice", WithSessionClock(fixedClock(t0)))
	s.LoadHistory(nil)

	key, provisionalCopy := s.BeginSend("ship it", "")
	req.True(provisionalCopy.IsProvisional())
	req.Equal("alice", provisionalCopy.SenderID)
	req.Len(s.Messages(), 1)
	req.True(s.Messages()[0].IsProvisional())

	stored := confirmed("alice", "ship it", t0.Add(time.Second))
	// Live echo first, then the REST answer
	s.Apply(event.ReceiveMessage{ProjectID: "p1", Message: stored, ClientKey: key})
	req.Len(s.Messages(), 1)
	s.ConfirmSend(key, stored)

	messages := s.Messages()
	req.Len(messages, 1)
	req.Equal(stored.ID, messages[0].ID)

	// A failed write leaves no ghost
	failedKey, _ := s.BeginSend("lost", "")
	s.FailSend(failedKey)
	req.Len(s.Messages(), 1)

	imageKey, imageCopy := s.BeginSend("", "data:image/png;base64,AAAA")
	req.Equal(domain.KindImage, imageCopy.Kind)
	s.FailSend(imageKey)
}

func TestSession_Relayed_Copy_Without_Id(t *testing.T) {
	req := require.New(t)
	s := NewSession("p1", "alice", WithSessionClock(fixedClock(t0)))
	s.LoadHistory(nil)

	key, mine := s.BeginSend("hi", "")
	// Our own relayed copy is already shown as pending
	s.Apply(event.ReceiveMessage{ProjectID: "p1", Message: mine, ClientKey: key})
	req.Len(s.Messages(), 1)

	// Somebody else's unconfirmed copy shows up until the log confirms it
	theirs := provisional("bob", "yo", t0)
	s.Apply(event.ReceiveMessage{ProjectID: "p1", Message: theirs, ClientKey: "bob-key"})
	req.Len(s.Messages(), 2)
	s.Apply(event.ReceiveMessage{ProjectID: "p1", Message: confirmed("bob", "yo", t0), ClientKey: "bob-key"})
	req.Len(s.Messages(), 2)
	req.Equal(1, countProvisional(s.Messages()))
}

func TestSession_Presence_And_Typing(t *testing.T) {
	req := require.New(t)
	s := NewSession("p1", "alice", WithSessionClock(fixedClock(t0)))
	s.LoadHistory(nil)

	s.Apply(event.UserJoined{ProjectID: "p1", DisplayName: "Bob"})
	s.Apply(event.UserJoined{ProjectID: "p1", DisplayName: "Ada"})
	s.Apply(event.Typing{ProjectID: "p1", DisplayName: "Bob", Typing: true})
	req.Equal([]string{"Ada", "Bob"}, s.Presence())
	req.Equal([]string{"Bob"}, s.Typing())

	s.Apply(event.UserLeft{ProjectID: "p1", DisplayName: "Bob"})
	req.Equal([]string{"Ada"}, s.Presence())
	req.Empty(s.Typing())

	req.Equal([]string{
		"👋 Bob joined the chat.",
		"👋 Ada joined the chat.",
		"👋 Bob left the chat.",
	}, bodies(s.Messages()))

	s.Reconnecting()
	req.Empty(s.Presence())
	s.Apply(event.UserJoined{ProjectID: "p1", DisplayName: "Ada"})
	req.Empty(s.Presence())
	s.LoadHistory(nil)
	req.Equal([]string{"Ada"}, s.Presence())
}

func TestSession_Unconfirmed_Relayed_Copy_Expires(t *testing.T) {
	req := require.New(t)
	now := t0
	s := NewSession("p1", "alice", WithTolerance(2*time.Second), WithSessionClock(func() time.Time { return now }))
	s.LoadHistory(nil)

	// Nobody ever stores this one
	s.Apply(event.ReceiveMessage{ProjectID: "p1", Message: provisional("bob", "I quit", t0), ClientKey: "b1"})
	key, _ := s.BeginSend("still typing", "")
	req.Equal(2, countProvisional(s.Messages()))

	now = t0.Add(2 * time.Second)
	req.Equal(2, countProvisional(s.Messages()))

	// Only the copy relayed by somebody else goes, our own send waits for its answer
	now = t0.Add(3 * time.Second)
	messages := s.Messages()
	req.Equal([]string{"still typing"}, bodies(messages))
	s.FailSend(key)
	req.Empty(s.Messages())
}

func TestSession_Presence_Snapshot(t *testing.T) {
	req := require.New(t)
	s := NewSession("p1", "alice", WithSessionClock(fixedClock(t0)))
	s.LoadHistory(nil)

	s.Apply(event.UserJoined{ProjectID: "p1", DisplayName: "Ghost"})
	s.SetPresence([]string{"Bob", "Alice"})
	req.Equal([]string{"Alice", "Bob"}, s.Presence())

	s.Apply(event.UserLeft{ProjectID: "p1", DisplayName: "Bob"})
	req.Equal([]string{"Alice"}, s.Presence())
}

func TestSession_Reconnecting_Forgets_Events_Of_A_Failed_Attempt(t *testing.T) {
	req := require.New(t)
	s := NewSession("p1", "alice", WithSessionClock(fixedClock(t0)))
	s.LoadHistory(nil)

	s.Reconnecting()
	s.Apply(event.UserJoined{ProjectID: "p1", DisplayName: "Alice"})
	s.Reconnecting()
	s.Apply(event.UserJoined{ProjectID: "p1", DisplayName: "Alice"})
	s.LoadHistory(nil)

	req.Equal([]string{"👋 Alice joined the chat."}, bodies(s.Messages()))
}
