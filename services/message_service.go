//go:generate go run go.uber.org/mock/mockgen -source=message_service.go -destination=../mocks/mock_message_service.go -package=mocks
package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/repositories"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

type IMessageService interface {
	Create(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error)
	Preview(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error)
	List(ctx context.Context, projectID domain.ProjectID) ([]domain.Message, error)
	SoftDelete(ctx context.Context, cmd domain.DeleteMessageCommand) (domain.Message, error)
	PurgeProject(ctx context.Context, projectID domain.ProjectID) (int, error)
}

type MessageService struct {
	log           *slog.Logger
	repository    repositories.IMessageRepository
	moderator     *moderation.Moderator
	maxTextLength int
	now           func() time.Time
}

type Option func(*MessageService)

// WithModerator censors text bodies before they are written.
func WithModerator(moderator *moderation.Moderator) Option {
	return func(s *MessageService) { s.moderator = moderator }
}

func WithMaxTextLength(n int) Option {
	return func(s *MessageService) { s.maxTextLength = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *MessageService) { s.now = now }
}

func NewMessageService(log *slog.Logger, repository repositories.IMessageRepository, options ...Option) *MessageService {
	s := &MessageService{
		log:        log,
		repository: repository,
		now:        time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Create validates and persists a new message. It does not broadcast anything,
// that is the caller's job once the write succeeded.
func (s *MessageService) Create(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error) {
	message, censored, err := s.build(ctx, cmd)
	if err != nil {
		return domain.Message{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Message{}, err
	}
	message.ID = id

	if err := s.repository.Append(message); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	s.log.Debug("Message created", "project_id", message.ProjectID, "message_id", message.ID,
		"kind", message.Kind, "censored_words", censored)
	return message, nil
}

// Preview returns the message Create would store, without an id and without
// writing it. Live relays use it so their copies read exactly like the log.
func (s *MessageService) Preview(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error) {
	message, _, err := s.build(ctx, cmd)
	return message, err
}

func (s *MessageService) build(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, int, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, 0, err
	}
	if err := domain.ValidateCommand(cmd); err != nil {
		return domain.Message{}, 0, err
	}

	hasText := strings.TrimSpace(cmd.Text) != ""
	hasImage := strings.TrimSpace(cmd.Image) != ""

	message := domain.Message{
		ProjectID: cmd.ProjectID,
		SenderID:  cmd.SenderID,
		CreatedAt: s.now().UTC(),
	}
	censored := 0

	switch {
	case hasText && hasImage:
		return domain.Message{}, 0, fmt.Errorf("a message carries either text or an image: %w", errors.ErrValidation)
	case hasText:
		if s.maxTextLength > 0 && utf8.RuneCountInString(cmd.Text) > s.maxTextLength {
			return domain.Message{}, 0, fmt.Errorf("text longer than %d characters: %w", s.maxTextLength, errors.ErrValidation)
		}
		message.Kind = domain.KindText
		message.Body = cmd.Text
		if s.moderator != nil {
			body, words := s.moderator.Censor(cmd.Text)
			message.Body, censored = body, len(words)
		}
	case hasImage:
		dataURL, err := normalizeImage(cmd.Image)
		if err != nil {
			return domain.Message{}, 0, err
		}
		message.Kind = domain.KindImage
		message.Body = dataURL
	default:
		return domain.Message{}, 0, fmt.Errorf("text or image is required: %w", errors.ErrValidation)
	}
	return message, censored, nil
}

func (s *MessageService) List(ctx context.Context, projectID domain.ProjectID) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := projectID.Validate(); err != nil {
		return nil, err
	}
	messages, err := s.repository.List(projectID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// SoftDelete tombstones a message. Only its sender may do it, whatever the current
// state of the message; deleting twice succeeds without changing anything.
func (s *MessageService) SoftDelete(ctx context.Context, cmd domain.DeleteMessageCommand) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	if err := domain.ValidateCommand(cmd); err != nil {
		return domain.Message{}, err
	}

	message, err := s.repository.Mutate(cmd.ProjectID, cmd.MessageID, func(m *domain.Message) (bool, error) {
		if m.SenderID != cmd.RequesterID {
			return false, fmt.Errorf("only the sender can delete message %s: %w", m.ID, errors.ErrForbidden)
		}
		if m.Deleted {
			return false, nil
		}
		*m = m.Tombstoned()
		return true, nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	s.log.Debug("Message deleted", "project_id", cmd.ProjectID, "message_id", cmd.MessageID)
	return message, nil
}

// PurgeProject removes the whole log of a project that no longer exists.
func (s *MessageService) PurgeProject(ctx context.Context, projectID domain.ProjectID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := projectID.Validate(); err != nil {
		return 0, err
	}
	count, err := s.repository.Purge(projectID)
	if err != nil {
		return 0, fmt.Errorf("purge project %s: %w", projectID, err)
	}
	s.log.Info("Project messages purged", "project_id", projectID, "count", count)
	return count, nil
}

// normalizeImage accepts a data URL or a bare base64 payload and returns a data URL
// whose media type comes from the decoded bytes, not from the client.
func normalizeImage(raw string) (string, error) {
	payload := strings.TrimSpace(raw)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 || !strings.HasSuffix(payload[:comma], ";base64") {
			return "", fmt.Errorf("image must be a base64 data URL: %w", errors.ErrValidation)
		}
		payload = payload[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("image is not valid base64: %w", errors.ErrValidation)
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("payload of type %s is not an image: %w", mtype.String(), errors.ErrValidation)
	}
	return "data:" + mtype.String() + ";base64," + payload, nil
}
