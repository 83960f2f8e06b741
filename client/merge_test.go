package client

import (
	"testing"
	"time"

	"chat-relay/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func confirmed(sender, body string, at time.Time) domain.Message {
	return domain.Message{
		ID:        uuid.Must(uuid.NewV7()),
		ProjectID: "p1",
		SenderID:  sender,
		Kind:      domain.KindText,
		Body:      body,
		CreatedAt: at,
	}
}

func provisional(sender, body string, at time.Time) domain.Message {
	m := confirmed(sender, body, at)
	m.ID = uuid.Nil
	return m
}

func bodies(messages []domain.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Kind == domain.KindSystem {
			out = append(out, m.Announcement)
			continue
		}
		out = append(out, m.Body)
	}
	return out
}

func TestMerge_Exactly_Once_Regardless_Of_Order(t *testing.T) {
	shipIt := confirmed("alice", "ship it", t0.Add(time.Second))
	pending := Pending{ClientKey: "k1", Message: provisional("alice", "ship it", t0), Seq: 1}

	tests := []struct {
		name     string
		snapshot Snapshot
	}{
		{
			name: "Live echo before the REST answer",
			snapshot: Snapshot{
				Confirmed: []Entry{{Message: shipIt, ClientKey: "k1", Seq: 2}},
				Pending:   []Pending{pending},
			},
		},
		{
			name: "REST answer and live echo both confirmed",
			snapshot: Snapshot{
				Confirmed: []Entry{
					{Message: shipIt, ClientKey: "k1", Seq: 1},
					{Message: shipIt, ClientKey: "k1", Seq: 3},
				},
			},
		},
		{
			name: "History and live copy of the same message",
			snapshot: Snapshot{
				Confirmed: []Entry{
					{Message: shipIt, Seq: 5},
					{Message: shipIt, ClientKey: "k1", Seq: 2},
				},
			},
		},
		{
			name: "Confirmed copy without key matched by content",
			snapshot: Snapshot{
				Confirmed: []Entry{{Message: shipIt, Seq: 2}},
				Pending:   []Pending{pending},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			messages := Merge(tt.snapshot)
			req.Len(messages, 1)
			req.Equal(shipIt.ID, messages[0].ID)
			req.False(messages[0].IsProvisional())
		})
	}
}

func TestMerge_Tombstones(t *testing.T) {
	req := require.New(t)
	m := confirmed("alice", "oops", t0)

	// Deletion known before the message itself
	tombstones := map[uuid.UUID]struct{}{m.ID: {}, uuid.New(): {}}
	messages := Merge(Snapshot{Tombstones: tombstones})
	req.Empty(messages)

	messages = Merge(Snapshot{Confirmed: []Entry{{Message: m, Seq: 1}}, Tombstones: tombstones})
	req.Len(messages, 1)
	req.True(messages[0].Deleted)
	req.Equal(domain.Tombstone, messages[0].Body)

	// A deleted copy wins over an earlier live one
	messages = Merge(Snapshot{Confirmed: []Entry{
		{Message: m, Seq: 1},
		{Message: m.Tombstoned(), Seq: 2},
	}})
	req.Len(messages, 1)
	req.True(messages[0].Deleted)
}

func TestMerge_Deleted_Message_Absorbs_Its_Provisional_Copy(t *testing.T) {
	m := confirmed("bob", "wrong room", t0.Add(time.Second))
	relayed := Pending{Message: provisional("bob", "wrong room", t0), Seq: 1, RelayedAt: t0}
	keyed := Pending{ClientKey: "k9", Message: provisional("bob", "wrong room", t0), Seq: 1}

	tests := []struct {
		name     string
		snapshot Snapshot
	}{
		{
			name: "Tombstone received after the confirmed copy, content match",
			snapshot: Snapshot{
				Confirmed:  []Entry{{Message: m, Seq: 2}},
				Pending:    []Pending{relayed},
				Tombstones: map[uuid.UUID]struct{}{m.ID: {}},
			},
		},
		{
			name: "Tombstone received after the confirmed copy, key match",
			snapshot: Snapshot{
				Confirmed:  []Entry{{Message: m, ClientKey: "k9", Seq: 2}},
				Pending:    []Pending{keyed},
				Tombstones: map[uuid.UUID]struct{}{m.ID: {}},
			},
		},
		{
			name: "Live copy then deleted history copy",
			snapshot: Snapshot{
				Confirmed: []Entry{{Message: m, Seq: 2}, {Message: m.Tombstoned(), Seq: 3}},
				Pending:   []Pending{relayed},
			},
		},
		{
			name: "Deleted history copy first",
			snapshot: Snapshot{
				Confirmed: []Entry{{Message: m.Tombstoned(), Seq: 2}, {Message: m, Seq: 3}},
				Pending:   []Pending{relayed},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			messages := Merge(tt.snapshot)
			req.Len(messages, 1)
			req.Equal(m.ID, messages[0].ID)
			req.True(messages[0].Deleted)
			req.Equal(domain.Tombstone, messages[0].Body)
			req.Zero(countProvisional(messages))
		})
	}
}

func TestMerge_Ordering(t *testing.T) {
	req := require.New(t)
	a := confirmed("alice", "a", t0)
	b := confirmed("bob", "b", t0)
	c := confirmed("clara", "c", t0.Add(-time.Minute))

	messages := Merge(Snapshot{
		Confirmed: []Entry{{Message: b, Seq: 2}, {Message: a, Seq: 1}, {Message: c, Seq: 3}},
		System:    []Entry{{Message: domain.SystemMessage("p1", "👋 Bob joined the chat.", t0.Add(time.Minute)), Seq: 4}},
	})
	req.Equal([]string{"c", "a", "b", "👋 Bob joined the chat."}, bodies(messages))
}

func TestMerge_Pending_Matching(t *testing.T) {
	t.Run("Each confirmed message absorbs one pending message", func(t *testing.T) {
		req := require.New(t)
		m := confirmed("alice", "+1", t0.Add(time.Second))
		messages := Merge(Snapshot{
			Confirmed: []Entry{{Message: m, Seq: 3}},
			Pending: []Pending{
				{Message: provisional("alice", "+1", t0), Seq: 1},
				{Message: provisional("alice", "+1", t0), Seq: 2},
			},
		})
		req.Len(messages, 2)
		req.Equal(1, countProvisional(messages))
	})

	t.Run("Outside the tolerance nothing is matched", func(t *testing.T) {
		req := require.New(t)
		m := confirmed("alice", "hello", t0.Add(time.Minute))
		messages := Merge(Snapshot{
			Confirmed: []Entry{{Message: m, Seq: 2}},
			Pending:   []Pending{{Message: provisional("alice", "hello", t0), Seq: 1}},
			Tolerance: time.Second,
		})
		req.Len(messages, 2)
		req.Equal(1, countProvisional(messages))
	})

	t.Run("Different keys never match by content", func(t *testing.T) {
		req := require.New(t)
		m := confirmed("alice", "hello", t0)
		messages := Merge(Snapshot{
			Confirmed: []Entry{{Message: m, ClientKey: "other-tab", Seq: 2}},
			Pending:   []Pending{{ClientKey: "k1", Message: provisional("alice", "hello", t0), Seq: 1}},
		})
		req.Len(messages, 2)
	})

	t.Run("Another sender never matches", func(t *testing.T) {
		req := require.New(t)
		m := confirmed("bob", "hello", t0)
		messages := Merge(Snapshot{
			Confirmed: []Entry{{Message: m, Seq: 2}},
			Pending:   []Pending{{Message: provisional("alice", "hello", t0), Seq: 1}},
		})
		req.Len(messages, 2)
	})

	t.Run("Confirmed message keeps the pending position", func(t *testing.T) {
		req := require.New(t)
		mine := confirmed("alice", "mine", t0)
		theirs := confirmed("bob", "theirs", t0)
		messages := Merge(Snapshot{
			Confirmed: []Entry{{Message: theirs, Seq: 2}, {Message: mine, ClientKey: "k1", Seq: 3}},
			Pending:   []Pending{{ClientKey: "k1", Message: provisional("alice", "mine", t0), Seq: 1}},
		})
		req.Equal([]string{"mine", "theirs"}, bodies(messages))
	})
}

func countProvisional(messages []domain.Message) int {
	n := 0
	for _, m := range messages {
		if m.IsProvisional() && m.Kind != domain.KindSystem {
			n++
		}
	}
	return n
}
