package domain

import (
	"fmt"

	"chat-relay/errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

type Command interface {
	Project() ProjectID
}

// PostMessageCommand carries a write request. Exactly one of Text and Image must be set.
type PostMessageCommand struct {
	ProjectID ProjectID `validate:"required"`
	SenderID  string    `validate:"required"`
	Text      string
	Image     string
}

func (p PostMessageCommand) Project() ProjectID {
	return p.ProjectID
}

type DeleteMessageCommand struct {
	ProjectID   ProjectID `validate:"required"`
	MessageID   uuid.UUID `validate:"required"`
	RequesterID string    `validate:"required"`
}

func (d DeleteMessageCommand) Project() ProjectID {
	return d.ProjectID
}

// ValidateCommand checks struct tags and the project id layout.
func ValidateCommand(cmd Command) error {
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), errors.ErrValidation)
	}
	return cmd.Project().Validate()
}
