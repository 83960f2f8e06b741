//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives live events for one connection.
// Consume must not block: an unreachable sink returns errors.ErrTransport.
type EventSink interface {
	ID() domain.ConnectionID
	Consume(ctx context.Context, e event.Event) error
}

// MembershipOracle answers whether a user belongs to a project.
type MembershipOracle interface {
	IsMember(ctx context.Context, projectID domain.ProjectID, userID string) (bool, error)
	Join(ctx context.Context, projectID domain.ProjectID, userID string) error
}

// IdentityVerifier turns a bearer token into a user id.
type IdentityVerifier interface {
	VerifyIdentity(token string) (string, error)
}

// IGateway is the live side of the relay, used by the REST handlers to fan out
// confirmed writes.
type IGateway interface {
	Join(ctx context.Context, sink EventSink, projectID domain.ProjectID, displayName string)
	Leave(ctx context.Context, sink EventSink, projectID domain.ProjectID, displayName string)
	Disconnect(ctx context.Context, sink EventSink)
	Broadcast(ctx context.Context, projectID domain.ProjectID, e event.Event) int
	TypingNotice(ctx context.Context, projectID domain.ProjectID, displayName string, isTyping bool) int
	Presence(projectID domain.ProjectID) []string
	RoomOf(id domain.ConnectionID) (domain.ProjectID, bool)
}
