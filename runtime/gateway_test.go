package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/observability"
	"chat-relay/sink"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newGateway() (*Gateway, *observability.MonitoringManager) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	monitoring := observability.NewMonitoringManager(log)
	return NewGateway(log, NewRegistry(), monitoring), monitoring
}

func types(events []event.Event) []event.Type {
	out := make([]event.Type, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type())
	}
	return out
}

func TestGateway_Join_Announces_To_Every_Member(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway, _ := newGateway()
	ada, bob := sink.NewTimeline("ada"), sink.NewTimeline("bob")

	gateway.Join(ctx, ada, "p1", "Ada")
	gateway.Join(ctx, bob, "p1", "Bob")

	req.Equal([]event.Event{
		event.UserJoined{ProjectID: "p1", DisplayName: "Ada"},
		event.UserJoined{ProjectID: "p1", DisplayName: "Bob"},
	}, ada.Events())
	// Bob was not there when Ada joined
	req.Equal([]event.Event{event.UserJoined{ProjectID: "p1", DisplayName: "Bob"}}, bob.Events())
	req.Equal([]string{"Ada", "Bob"}, gateway.Presence("p1"))

	rooms, connections := gateway.Stats()
	req.Equal(1, rooms)
	req.Equal(2, connections)
}

func TestGateway_Leave_Drops_Empty_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway, monitoring := newGateway()
	ada, bob := sink.NewTimeline("ada"), sink.NewTimeline("bob")

	gateway.Join(ctx, ada, "p1", "Ada")
	gateway.Join(ctx, bob, "p1", "Bob")
	gateway.Leave(ctx, bob, "p1", "Bob")

	req.Equal(event.UserLeft{ProjectID: "p1", DisplayName: "Bob"}, ada.Events()[2])
	req.Len(bob.Events(), 1)
	req.Equal([]string{"Ada"}, gateway.Presence("p1"))

	// Leaving twice or leaving a room never joined is a no-op
	gateway.Leave(ctx, bob, "p1", "Bob")
	gateway.Leave(ctx, bob, "p2", "Bob")
	req.Len(ada.Events(), 3)

	gateway.Leave(ctx, ada, "p1", "Ada")
	rooms, connections := gateway.Stats()
	req.Zero(rooms)
	req.Zero(connections)
	req.Empty(gateway.Presence("p1"))
	req.Equal(uint64(2), monitoring.GetLatest().Leaves)

	// A new joiner gets a fresh room
	gateway.Join(ctx, bob, "p1", "Bob")
	req.Equal([]string{"Bob"}, gateway.Presence("p1"))
}

func TestGateway_Disconnect_Is_An_Implicit_Leave(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway, _ := newGateway()
	ada, bob := sink.NewTimeline("ada"), sink.NewTimeline("bob")

	gateway.Join(ctx, ada, "p1", "Ada")
	gateway.Join(ctx, bob, "p1", "Bob")
	gateway.Disconnect(ctx, bob)
	gateway.Disconnect(ctx, bob)

	req.Equal([]event.Type{event.TypeUserJoined, event.TypeUserJoined, event.TypeUserLeft}, types(ada.Events()))
	req.Equal(event.UserLeft{ProjectID: "p1", DisplayName: "Bob"}, ada.Events()[2])
	_, ok := gateway.RoomOf("bob")
	req.False(ok)
}

func TestGateway_Join_Another_Room_Leaves_The_Previous(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway, _ := newGateway()
	ada, bob := sink.NewTimeline("ada"), sink.NewTimeline("bob")

	gateway.Join(ctx, ada, "p1", "Ada")
	gateway.Join(ctx, bob, "p1", "Bob")
	gateway.Join(ctx, bob, "p2", "Bob")

	room, ok := gateway.RoomOf("bob")
	req.True(ok)
	req.Equal(domain.ProjectID("p2"), room)
	req.Equal([]string{"Ada"}, gateway.Presence("p1"))
	req.Equal([]string{"Bob"}, gateway.Presence("p2"))
	req.Equal(event.UserLeft{ProjectID: "p1", DisplayName: "Bob"}, ada.Events()[2])

	// Ada no longer shares a room with Bob
	gateway.Broadcast(ctx, "p2", event.Typing{ProjectID: "p2", DisplayName: "Bob", Typing: true})
	req.Len(ada.Events(), 3)
}

func TestGateway_Broadcast_Skips_Unreachable_Connections(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	gateway, monitoring := newGateway()

	dead := mocks.NewMockEventSink(ctrl)
	dead.EXPECT().ID().Return(domain.ConnectionID("dead")).AnyTimes()
	dead.EXPECT().Consume(gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("gone: %w", errors.ErrTransport)).AnyTimes()

	ada, eve := sink.NewTimeline("ada"), sink.NewTimeline("eve")
	gateway.Join(ctx, dead, "p1", "Ghost")
	gateway.Join(ctx, ada, "p1", "Ada")
	gateway.Join(ctx, eve, "p2", "Eve")

	message := domain.Message{ID: uuid.New(), ProjectID: "p1", SenderID: "u1", Kind: domain.KindText, Body: "ship it"}
	delivered := gateway.Broadcast(ctx, "p1", event.ReceiveMessage{ProjectID: "p1", Message: message})

	req.Equal(1, delivered)
	req.Equal([]domain.Message{message}, ada.Messages())
	req.Empty(eve.Messages())
	req.NotZero(monitoring.GetLatest().Dropped)

	req.Zero(gateway.Broadcast(ctx, "nobody", event.ReceiveMessage{ProjectID: "nobody", Message: message}))
	req.Equal(1, gateway.TypingNotice(ctx, "p2", "Eve", true))
	req.Equal(event.Typing{ProjectID: "p2", DisplayName: "Eve", Typing: true}, eve.Events()[1])
}

func TestGateway_Broadcast_Is_Fifo_Per_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway, _ := newGateway()

	members := []*sink.Timeline{sink.NewTimeline("a"), sink.NewTimeline("b"), sink.NewTimeline("c")}
	for _, m := range members {
		gateway.Join(ctx, m, "p1", string(m.ID()))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				gateway.Broadcast(ctx, "p1", event.Typing{ProjectID: "p1", DisplayName: fmt.Sprintf("%d-%d", w, i)})
			}
		}(w)
	}
	wg.Wait()

	reference := members[0].Events()
	req.Len(reference, 3+200)
	for _, m := range members[1:] {
		events := m.Events()
		// Each later joiner missed the announcements made before it
		req.Equal(reference[len(reference)-200:], events[len(events)-200:])
	}
}

func TestGateway_Concurrent_Churn(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway, _ := newGateway()

	var wg sync.WaitGroup
	for c := 0; c < 20; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			s := sink.NewConnectionSink(domain.ConnectionID(fmt.Sprintf("c%d", c)), 8)
			for i := 0; i < 30; i++ {
				project := domain.ProjectID(fmt.Sprintf("p%d", i%3))
				gateway.Join(ctx, s, project, "user")
				gateway.Broadcast(ctx, project, event.Typing{ProjectID: project, DisplayName: "user"})
				if i%2 == 0 {
					gateway.Disconnect(ctx, s)
				}
			}
			gateway.Disconnect(ctx, s)
			s.Close()
		}(c)
	}
	wg.Wait()

	rooms, connections := gateway.Stats()
	req.Zero(rooms)
	req.Zero(connections)
}
