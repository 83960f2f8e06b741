// Package client is the consuming side of the relay: it keeps a local view of a
// project chat consistent with the durable log while live events arrive in any order.
package client

import (
	"sort"
	"time"

	"chat-relay/domain"

	"github.com/google/uuid"
)

const DefaultTolerance = 5 * time.Second

// Entry is a confirmed message as it reached the client. Seq is the local
// arrival order and breaks createdAt ties.
type Entry struct {
	Message   domain.Message
	ClientKey string
	Seq       uint64
}

// Pending is a message the log has not confirmed yet. RelayedAt is set for copies
// relayed by somebody else and zero for the user's own sends.
type Pending struct {
	ClientKey string
	Message   domain.Message
	Seq       uint64
	RelayedAt time.Time
}

// Snapshot is everything the client knows at one point in time.
type Snapshot struct {
	Confirmed  []Entry
	Pending    []Pending
	System     []Entry
	Tombstones map[uuid.UUID]struct{}
	Tolerance  time.Duration
}

type ordered struct {
	message domain.Message
	seq     uint64
}

// Merge builds the rendered timeline. Every confirmed message appears once,
// a deletion only ever rewrites an existing entry and a provisional copy
// disappears as soon as its confirmed counterpart is known.
func Merge(s Snapshot) []domain.Message {
	// Matching compares bodies, so deletions are only applied once it is done.
	confirmed, deleted := dedupe(s.Confirmed)

	pending := append([]Pending(nil), s.Pending...)
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Seq < pending[j].Seq })
	matched := make([]bool, len(pending))
	absorbed := make([]bool, len(confirmed))

	// Client keys first, then the content fallback for whatever is left.
	for i, c := range confirmed {
		if c.ClientKey == "" {
			continue
		}
		for j, p := range pending {
			if !matched[j] && p.ClientKey == c.ClientKey {
				matched[j], absorbed[i] = true, true
				confirmed[i].Seq = min(c.Seq, p.Seq)
				break
			}
		}
	}
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	for i, c := range confirmed {
		if absorbed[i] {
			continue
		}
		for j, p := range pending {
			if matched[j] || (c.ClientKey != "" && p.ClientKey != "") {
				continue
			}
			if sameContent(c.Message, p.Message, tolerance) {
				matched[j], absorbed[i] = true, true
				confirmed[i].Seq = min(c.Seq, p.Seq)
				break
			}
		}
	}

	timeline := make([]ordered, 0, len(confirmed)+len(pending)+len(s.System))
	for i, c := range confirmed {
		message := c.Message
		if _, ok := s.Tombstones[message.ID]; ok || deleted[i] {
			message = message.Tombstoned()
		}
		timeline = append(timeline, ordered{message: message, seq: c.Seq})
	}
	for j, p := range pending {
		if matched[j] {
			continue
		}
		provisional := p.Message
		provisional.ID = uuid.Nil
		timeline = append(timeline, ordered{message: provisional, seq: p.Seq})
	}
	for _, e := range s.System {
		timeline = append(timeline, ordered{message: e.Message, seq: e.Seq})
	}

	sort.SliceStable(timeline, func(i, j int) bool {
		a, b := timeline[i], timeline[j]
		if !a.message.CreatedAt.Equal(b.message.CreatedAt) {
			return a.message.CreatedAt.Before(b.message.CreatedAt)
		}
		return a.seq < b.seq
	})

	messages := make([]domain.Message, 0, len(timeline))
	for _, o := range timeline {
		messages = append(messages, o.message)
	}
	return messages
}

// dedupe keeps the earliest arrival of each id, with the first undeleted body. deleted[i]
// is set when any copy of entry i was deleted. A client key seen on any copy is kept.
func dedupe(entries []Entry) ([]Entry, []bool) {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	index := make(map[uuid.UUID]int, len(sorted))
	out := make([]Entry, 0, len(sorted))
	deleted := make([]bool, 0, len(sorted))
	for _, e := range sorted {
		i, seen := index[e.Message.ID]
		if !seen {
			index[e.Message.ID] = len(out)
			out = append(out, e)
			deleted = append(deleted, e.Message.Deleted)
			continue
		}
		deleted[i] = deleted[i] || e.Message.Deleted
		if out[i].Message.Deleted && !e.Message.Deleted {
			out[i].Message = e.Message
		}
		if out[i].ClientKey == "" {
			out[i].ClientKey = e.ClientKey
		}
	}
	return out, deleted
}

func sameContent(confirmed, provisional domain.Message, tolerance time.Duration) bool {
	if confirmed.SenderID != provisional.SenderID || confirmed.Kind != provisional.Kind || confirmed.Body != provisional.Body {
		return false
	}
	delta := confirmed.CreatedAt.Sub(provisional.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= tolerance
}
