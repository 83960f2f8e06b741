// Package domain contains core concepts of the chat relay.
// This file defines Participant entities: one live connection bound to a room.
// No runtime, network, or UI logic should be added here.
package domain

type ConnectionID string

type Participant struct {
	ConnectionID ConnectionID
	DisplayName  string
}
