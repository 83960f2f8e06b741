package services_test

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/moderation"
	"chat-relay/repositories"
	"chat-relay/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	gifHeader = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00")
)

func newService(t *testing.T, options ...services.Option) *services.MessageService {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	repository, err := repositories.NewMessageRepository(db, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repository.Close()
		_ = db.Close()
	})
	return services.NewMessageService(log, repository, options...)
}

func TestMessageService_Create_Validation(t *testing.T) {
	ctx := context.Background()
	service := newService(t, services.WithMaxTextLength(10))
	png := base64.StdEncoding.EncodeToString(pngHeader)

	tests := []struct {
		description string
		cmd         domain.PostMessageCommand
	}{
		{"Should fail when text and image are empty", domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1"}},
		{"Should fail on whitespace only text", domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Text: " \n\t "}},
		{"Should fail when both text and image are set", domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Text: "hi", Image: png}},
		{"Should fail when text is too long", domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Text: strings.Repeat("a", 11)}},
		{"Should fail without sender", domain.PostMessageCommand{ProjectID: "p1", Text: "hi"}},
		{"Should fail without project", domain.PostMessageCommand{SenderID: "u1", Text: "hi"}},
		{"Should fail on a reserved character in project", domain.PostMessageCommand{ProjectID: "p:1", SenderID: "u1", Text: "hi"}},
		{"Should fail when image is not base64", domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Image: "%%%"}},
		{"Should fail when image is not an image", domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1",
			Image: base64.StdEncoding.EncodeToString([]byte("just some text"))}},
		{"Should fail on a data URL without base64", domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Image: "data:image/png,abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			_, err := service.Create(ctx, tt.cmd)
			require.ErrorIs(t, err, errors.ErrValidation)
		})
	}

	messages, err := service.List(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestMessageService_Create(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service := newService(t, services.WithClock(func() time.Time { return at }))

	text, err := service.Create(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Text: "ship it"})
	req.NoError(err)
	req.NotEqual(uuid.Nil, text.ID)
	req.Equal(byte(7), byte(text.ID.Version()))
	req.Equal(domain.KindText, text.Kind)
	req.Equal("ship it", text.Body)
	req.False(text.Deleted)
	req.True(at.Equal(text.CreatedAt))

	image, err := service.Create(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1",
		Image: base64.StdEncoding.EncodeToString(pngHeader)})
	req.NoError(err)
	req.Equal(domain.KindImage, image.Kind)
	req.True(strings.HasPrefix(image.Body, "data:image/png;base64,"))

	// The declared media type is replaced by the sniffed one
	gif, err := service.Create(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1",
		Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString(gifHeader)})
	req.NoError(err)
	req.True(strings.HasPrefix(gif.Body, "data:image/gif;base64,"))
}

func TestMessageService_Ids_Are_Unique(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service := newService(t)

	seen := make(map[uuid.UUID]struct{})
	for i := 0; i < 200; i++ {
		project := domain.ProjectID("p1")
		if i%2 == 0 {
			project = "p2"
		}
		message, err := service.Create(ctx, domain.PostMessageCommand{ProjectID: project, SenderID: "u1", Text: "hello"})
		req.NoError(err)
		_, duplicate := seen[message.ID]
		req.False(duplicate)
		seen[message.ID] = struct{}{}
	}
}

func TestMessageService_List_After_Creates_And_Deletes(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service := newService(t, services.WithClock(func() time.Time { return at }))

	var created []domain.Message
	for i := 0; i < 6; i++ {
		message, err := service.Create(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Text: string(rune('a' + i))})
		req.NoError(err)
		created = append(created, message)
	}
	deleted := map[uuid.UUID]bool{created[1].ID: true, created[4].ID: true}
	for id := range deleted {
		_, err := service.SoftDelete(ctx, domain.DeleteMessageCommand{ProjectID: "p1", MessageID: id, RequesterID: "u1"})
		req.NoError(err)
	}

	messages, err := service.List(ctx, "p1")
	req.NoError(err)
	req.Len(messages, 6)
	// Same createdAt everywhere: insertion order decides
	for i, message := range messages {
		req.Equal(created[i].ID, message.ID)
		req.Equal(deleted[message.ID], message.Deleted)
		if message.Deleted {
			req.Equal(domain.Tombstone, message.Body)
		} else {
			req.Equal(created[i].Body, message.Body)
		}
	}
}

func TestMessageService_SoftDelete(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service := newService(t)

	message, err := service.Create(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "alice", Text: "oops"})
	req.NoError(err)

	// Not the sender, before deletion
	_, err = service.SoftDelete(ctx, domain.DeleteMessageCommand{ProjectID: "p1", MessageID: message.ID, RequesterID: "bob"})
	req.ErrorIs(err, errors.ErrForbidden)

	first, err := service.SoftDelete(ctx, domain.DeleteMessageCommand{ProjectID: "p1", MessageID: message.ID, RequesterID: "alice"})
	req.NoError(err)
	req.True(first.Deleted)
	req.Equal(domain.Tombstone, first.Body)

	second, err := service.SoftDelete(ctx, domain.DeleteMessageCommand{ProjectID: "p1", MessageID: message.ID, RequesterID: "alice"})
	req.NoError(err)
	req.Equal(first.ID, second.ID)
	req.Equal(first.Body, second.Body)
	req.True(second.Deleted)

	// Not the sender, after deletion
	_, err = service.SoftDelete(ctx, domain.DeleteMessageCommand{ProjectID: "p1", MessageID: message.ID, RequesterID: "bob"})
	req.ErrorIs(err, errors.ErrForbidden)

	_, err = service.SoftDelete(ctx, domain.DeleteMessageCommand{ProjectID: "p1", MessageID: uuid.New(), RequesterID: "alice"})
	req.ErrorIs(err, errors.ErrNotFound)

	// A message id is only reachable through its own project
	_, err = service.SoftDelete(ctx, domain.DeleteMessageCommand{ProjectID: "p2", MessageID: message.ID, RequesterID: "alice"})
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestMessageService_Moderation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	moderator, err := moderation.NewModerator([]string{"badger"}, '*')
	req.NoError(err)
	service := newService(t, services.WithModerator(moderator))

	message, err := service.Create(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Text: "the badger is here"})
	req.NoError(err)
	req.Equal("the ****** is here", message.Body)
}

func TestMessageService_Preview_Matches_Create_Without_Writing(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	moderator, err := moderation.NewModerator([]string{"badger"}, '*')
	req.NoError(err)
	service := newService(t, services.WithModerator(moderator))

	preview, err := service.Preview(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Text: "the b4dger is here"})
	req.NoError(err)
	req.True(preview.IsProvisional())
	req.Equal("the ****** is here", preview.Body)
	req.Equal("u1", preview.SenderID)
	req.False(preview.CreatedAt.IsZero())

	image := base64.StdEncoding.EncodeToString(pngHeader)
	preview, err = service.Preview(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Image: "data:text/plain;base64," + image})
	req.NoError(err)
	req.Equal("data:image/png;base64,"+image, preview.Body)

	_, err = service.Preview(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Text: "  "})
	req.ErrorIs(err, errors.ErrValidation)

	messages, err := service.List(ctx, "p1")
	req.NoError(err)
	req.Empty(messages)
}

func TestMessageService_PurgeProject(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service := newService(t)

	for i := 0; i < 3; i++ {
		_, err := service.Create(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Text: "hello"})
		req.NoError(err)
	}
	kept, err := service.Create(ctx, domain.PostMessageCommand{ProjectID: "p2", SenderID: "u1", Text: "stay"})
	req.NoError(err)

	count, err := service.PurgeProject(ctx, "p1")
	req.NoError(err)
	req.Equal(3, count)

	messages, err := service.List(ctx, "p1")
	req.NoError(err)
	req.Empty(messages)

	messages, err = service.List(ctx, "p2")
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal(kept.ID, messages[0].ID)
}

func TestMessageService_Repository_Failure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	service := services.NewMessageService(logs.GetLoggerFromLevel(slog.LevelDebug), repository)
	boom := stderrors.New("disk full")

	repository.EXPECT().Append(gomock.Any()).Return(boom).Times(1)
	_, err := service.Create(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1", Text: "hello"})
	req.ErrorIs(err, boom)
	req.NotErrorIs(err, errors.ErrValidation)

	repository.EXPECT().List(domain.ProjectID("p1")).Return(nil, nil).Times(1)
	messages, err := service.List(ctx, "p1")
	req.NoError(err)
	req.NotNil(messages)
	req.Empty(messages)

	// Validation happens before the repository is touched
	repository.EXPECT().Append(gomock.Any()).Times(0)
	_, err = service.Create(ctx, domain.PostMessageCommand{ProjectID: "p1", SenderID: "u1"})
	req.ErrorIs(err, errors.ErrValidation)
}
