package sink

import (
	"context"
	"testing"

	"chat-relay/domain/event"
	"chat-relay/errors"

	"github.com/stretchr/testify/require"
)

func TestConnectionSink_Consume(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewConnectionSink("c1", 2)

	req.NoError(s.Consume(ctx, event.UserJoined{ProjectID: "p1", DisplayName: "Ada"}))
	req.NoError(s.Consume(ctx, event.UserLeft{ProjectID: "p1", DisplayName: "Ada"}))
	// Full queue never blocks the caller
	req.ErrorIs(s.Consume(ctx, event.UserJoined{ProjectID: "p1", DisplayName: "Bob"}), errors.ErrTransport)

	first := <-s.Events()
	req.Equal(event.TypeUserJoined, first.Type())
	req.NoError(s.Consume(ctx, event.UserJoined{ProjectID: "p1", DisplayName: "Bob"}))

	s.Close()
	s.Close()
	req.ErrorIs(s.Consume(ctx, event.UserJoined{ProjectID: "p1", DisplayName: "Eve"}), errors.ErrTransport)

	// Queued events survive Close
	var drained []event.Type
	for e := range s.Events() {
		drained = append(drained, e.Type())
	}
	req.Equal([]event.Type{event.TypeUserLeft, event.TypeUserJoined}, drained)
}

func TestTimeline_Messages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	timeline := NewTimeline("c1")

	req.NoError(timeline.Consume(ctx, event.UserJoined{ProjectID: "p1", DisplayName: "Ada"}))
	req.NoError(timeline.Consume(ctx, event.ReceiveMessage{ProjectID: "p1"}))
	req.Len(timeline.Events(), 2)
	req.Len(timeline.Messages(), 1)
	req.Equal("c1", string(timeline.ID()))
}
