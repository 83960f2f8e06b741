// Package event defines the live vocabulary exchanged over a room connection.
// Every wire event is decoded once, at the connection boundary, into one of the
// fixed shapes below and validated before anything else looks at it.
package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

type Type string

const (
	TypeJoinProject    Type = "joinProject"
	TypeLeaveProject   Type = "leaveProject"
	TypeSendMessage    Type = "sendMessage"
	TypeReceiveMessage Type = "receiveMessage"
	TypeDeleteMessage  Type = "deleteMessage"
	TypeMessageDeleted Type = "messageDeleted"
	TypeTyping         Type = "typing"
	TypeUserJoined     Type = "userJoined"
	TypeUserLeft       Type = "userLeft"
	TypeError          Type = "error"
)

type Event interface {
	Type() Type
	Project() domain.ProjectID
}

type JoinProject struct {
	ProjectID   domain.ProjectID `json:"projectId" validate:"required"`
	DisplayName string           `json:"displayName" validate:"required,max=64"`
}

type LeaveProject struct {
	ProjectID   domain.ProjectID `json:"projectId" validate:"required"`
	DisplayName string           `json:"displayName" validate:"max=64"`
}

// SendMessage is the client intent to fan a message out live. ClientKey
// correlates a provisional copy with its confirmed counterpart.
type SendMessage struct {
	ProjectID domain.ProjectID `json:"projectId" validate:"required"`
	Message   domain.Message   `json:"message"`
	ClientKey string           `json:"clientKey,omitempty" validate:"max=64"`
}

type ReceiveMessage struct {
	ProjectID domain.ProjectID `json:"projectId" validate:"required"`
	Message   domain.Message   `json:"message"`
	ClientKey string           `json:"clientKey,omitempty" validate:"max=64"`
}

type DeleteMessage struct {
	ProjectID domain.ProjectID `json:"projectId" validate:"required"`
	MessageID uuid.UUID        `json:"messageId" validate:"required"`
}

type MessageDeleted struct {
	ProjectID domain.ProjectID `json:"projectId" validate:"required"`
	MessageID uuid.UUID        `json:"messageId" validate:"required"`
}

type Typing struct {
	ProjectID   domain.ProjectID `json:"projectId" validate:"required"`
	DisplayName string           `json:"displayName" validate:"required,max=64"`
	Typing      bool             `json:"typing"`
}

type UserJoined struct {
	ProjectID   domain.ProjectID `json:"projectId" validate:"required"`
	DisplayName string           `json:"displayName"`
}

type UserLeft struct {
	ProjectID   domain.ProjectID `json:"projectId" validate:"required"`
	DisplayName string           `json:"displayName"`
}

// Error is only ever sent to the connection that caused it.
type Error struct {
	Message string `json:"message"`
}

func (JoinProject) Type() Type    { return TypeJoinProject }
func (LeaveProject) Type() Type   { return TypeLeaveProject }
func (SendMessage) Type() Type    { return TypeSendMessage }
func (ReceiveMessage) Type() Type { return TypeReceiveMessage }
func (DeleteMessage) Type() Type  { return TypeDeleteMessage }
func (MessageDeleted) Type() Type { return TypeMessageDeleted }
func (Typing) Type() Type         { return TypeTyping }
func (UserJoined) Type() Type     { return TypeUserJoined }
func (UserLeft) Type() Type       { return TypeUserLeft }
func (Error) Type() Type          { return TypeError }

func (e JoinProject) Project() domain.ProjectID    { return e.ProjectID }
func (e LeaveProject) Project() domain.ProjectID   { return e.ProjectID }
func (e SendMessage) Project() domain.ProjectID    { return e.ProjectID }
func (e ReceiveMessage) Project() domain.ProjectID { return e.ProjectID }
func (e DeleteMessage) Project() domain.ProjectID  { return e.ProjectID }
func (e MessageDeleted) Project() domain.ProjectID { return e.ProjectID }
func (e Typing) Project() domain.ProjectID         { return e.ProjectID }
func (e UserJoined) Project() domain.ProjectID     { return e.ProjectID }
func (e UserLeft) Project() domain.ProjectID       { return e.ProjectID }
func (Error) Project() domain.ProjectID            { return "" }

// IsInbound reports whether a client is allowed to send this event.
func IsInbound(e Event) bool {
	switch e.Type() {
	case TypeJoinProject, TypeLeaveProject, TypeSendMessage, TypeDeleteMessage, TypeTyping:
		return true
	default:
		return false
	}
}

// Envelope is the wire frame: {"event": "...", "data": {...}}.
type Envelope struct {
	Event Type            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: e.Type(), Data: data})
}

var decoders = map[Type]func(json.RawMessage) (Event, error){
	TypeJoinProject:    decodeAs[JoinProject],
	TypeLeaveProject:   decodeAs[LeaveProject],
	TypeSendMessage:    decodeAs[SendMessage],
	TypeReceiveMessage: decodeAs[ReceiveMessage],
	TypeDeleteMessage:  decodeAs[DeleteMessage],
	TypeMessageDeleted: decodeAs[MessageDeleted],
	TypeTyping:         decodeAs[Typing],
	TypeUserJoined:     decodeAs[UserJoined],
	TypeUserLeft:       decodeAs[UserLeft],
	TypeError:          decodeAs[Error],
}

// Decode parses and validates one wire frame.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", errors.ErrValidation)
	}
	decoder, ok := decoders[env.Event]
	if !ok {
		return nil, fmt.Errorf("%q: %w", env.Event, errors.ErrUnknownEvent)
	}
	return decoder(env.Data)
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if len(data) == 0 {
		return nil, fmt.Errorf("missing data: %w", errors.ErrValidation)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", v.Type(), errors.ErrValidation)
	}
	if err := validate.Struct(v); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", v.Type(), err.Error(), errors.ErrValidation)
	}
	if v.Type() != TypeError {
		if err := v.Project().Validate(); err != nil {
			return nil, err
		}
	}
	return checkMessage(v)
}

// checkMessage enforces the message payload rules shared by sendMessage and receiveMessage.
func checkMessage(e Event) (Event, error) {
	switch v := e.(type) {
	case SendMessage:
		if err := normalize(v.ProjectID, &v.Message); err != nil {
			return nil, err
		}
		return v, nil
	case ReceiveMessage:
		if err := normalize(v.ProjectID, &v.Message); err != nil {
			return nil, err
		}
		return v, nil
	}
	return e, nil
}

func normalize(projectID domain.ProjectID, msg *domain.Message) error {
	if msg.ProjectID == "" {
		msg.ProjectID = projectID
	}
	if msg.ProjectID != projectID {
		return fmt.Errorf("message belongs to %q, not %q: %w", msg.ProjectID, projectID, errors.ErrValidation)
	}
	if msg.Kind == "" {
		msg.Kind = domain.KindText
	}
	switch msg.Kind {
	case domain.KindText, domain.KindImage:
	default:
		return fmt.Errorf("kind %q cannot be sent: %w", msg.Kind, errors.ErrValidation)
	}
	if strings.TrimSpace(msg.Body) == "" && !msg.Deleted {
		return fmt.Errorf("empty message: %w", errors.ErrValidation)
	}
	return nil
}
