// Package domain contains core concepts of the chat relay.
// This file defines Message records and their lifecycle rules.
// Messages are appended once and only ever mutated by a one-way soft delete.
package domain

import (
	"fmt"
	"strings"
	"time"

	"chat-relay/errors"

	"github.com/google/uuid"
)

// Tombstone replaces the body of a soft-deleted message.
const Tombstone = "🗑️ This message was deleted"

type ProjectID string

// Validate rejects identifiers that would break the storage key layout.
func (p ProjectID) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return fmt.Errorf("empty project id: %w", errors.ErrValidation)
	}
	if strings.ContainsAny(string(p), ": /") {
		return fmt.Errorf("project id %q contains a reserved character: %w", p, errors.ErrValidation)
	}
	return nil
}

type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindSystem Kind = "system"
)

// Message is one entry of a project chat.
// A zero ID marks a provisional copy that the log has not confirmed yet.
type Message struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    ProjectID `json:"projectId"`
	SenderID     string    `json:"senderId,omitempty"`
	Kind         Kind      `json:"kind"`
	Body         string    `json:"body"`
	Announcement string    `json:"announcement,omitempty"`
	Deleted      bool      `json:"deleted"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (m Message) IsProvisional() bool {
	return m.ID == uuid.Nil
}

// Tombstoned returns the deleted form of the message. Applying it twice is a no-op.
func (m Message) Tombstoned() Message {
	m.Deleted = true
	m.Body = Tombstone
	return m
}

// SystemMessage builds an ephemeral announcement. It is never persisted.
func SystemMessage(projectID ProjectID, announcement string, at time.Time) Message {
	return Message{
		ProjectID:    projectID,
		Kind:         KindSystem,
		Announcement: announcement,
		CreatedAt:    at,
	}
}
