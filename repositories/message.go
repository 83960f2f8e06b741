//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	sequenceKey        = "seq:msg"
	sequenceBandwidth  = 128
	maxConflictRetries = 5
)

type IMessageRepository interface {
	Append(message domain.Message) error
	List(projectID domain.ProjectID) ([]domain.Message, error)
	Get(projectID domain.ProjectID, id uuid.UUID) (domain.Message, error)
	Mutate(projectID domain.ProjectID, id uuid.UUID, fn MutateFunc) (domain.Message, error)
	Purge(projectID domain.ProjectID) (int, error)
}

// MutateFunc edits a stored message in place and reports whether it changed.
type MutateFunc func(message *domain.Message) (bool, error)

type MessageRepository struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) (*MessageRepository, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &MessageRepository{db: db, seq: seq, log: log}, nil
}

// Close hands the unused part of the leased sequence back to Badger.
func (m *MessageRepository) Close() error {
	return m.seq.Release()
}

type DiskMessage struct {
	ID      string `cbor:"id"`
	Project string `cbor:"project"`
	Sender  string `cbor:"sender"`
	Kind    string `cbor:"kind"`
	Body    string `cbor:"body"`
	Deleted bool   `cbor:"deleted"`
	At      int64  `cbor:"at"`
}

// Append persists a message in BadgerDB.
// The record key is "msg:{project}:{sequence_padded}" so a prefix scan returns the
// log in insertion order. A secondary key "idx:msg:{project}:{uuid}" points at it for
// lookups by id and guarantees the id is not reused within the project.
func (m *MessageRepository) Append(message domain.Message) error {
	if message.Kind == domain.KindSystem {
		return fmt.Errorf("system messages are never persisted: %w", errors.ErrValidation)
	}
	next, err := m.seq.Next()
	if err != nil {
		return err
	}
	key := messageKey(message.ProjectID, next)
	bytes, err := marshal(fromMessage(message))
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		idx := indexKey(message.ProjectID, message.ID)
		if _, err := txn.Get(idx); err == nil {
			return fmt.Errorf("message id %s already used in project %s", message.ID, message.ProjectID)
		} else if !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, bytes); err != nil {
			return err
		}
		return txn.Set(idx, key)
	})
}

// List returns the whole log of a project, oldest first. Keys come back in
// insertion order; the stable sort on CreatedAt keeps that order for ties.
func (m *MessageRepository) List(projectID domain.ProjectID) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix(projectID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				message, err := DecodeMessage(value)
				if err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	m.log.Debug("Messages loaded", "project_id", projectID, "count", len(messages))
	return messages, nil
}

func (m *MessageRepository) Get(projectID domain.ProjectID, id uuid.UUID) (domain.Message, error) {
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		_, message, err = load(txn, projectID, id)
		return err
	})
	return message, err
}

// Mutate runs fn inside a read-write transaction. Concurrent writers on the same
// message make Badger report a conflict; the whole read-modify-write is retried.
func (m *MessageRepository) Mutate(projectID domain.ProjectID, id uuid.UUID, fn MutateFunc) (domain.Message, error) {
	var result domain.Message
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := m.db.Update(func(txn *badger.Txn) error {
			key, message, err := load(txn, projectID, id)
			if err != nil {
				return err
			}
			changed, err := fn(&message)
			if err != nil {
				return err
			}
			result = message
			if !changed {
				return nil
			}
			bytes, err := marshal(fromMessage(message))
			if err != nil {
				return err
			}
			return txn.Set(key, bytes)
		})
		if stderrors.Is(err, badger.ErrConflict) {
			m.log.Debug("Conflict on message update, retrying", "message_id", id, "attempt", attempt)
			continue
		}
		return result, err
	}
	return domain.Message{}, fmt.Errorf("message %s: %w", id, badger.ErrConflict)
}

// Purge drops every record and index entry of a project and returns how many
// messages were removed.
func (m *MessageRepository) Purge(projectID domain.ProjectID) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix(projectID))
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if err := m.db.DropPrefix([]byte(messagePrefix(projectID)), []byte(indexPrefix(projectID))); err != nil {
		return 0, err
	}
	return count, nil
}

func load(txn *badger.Txn, projectID domain.ProjectID, id uuid.UUID) ([]byte, domain.Message, error) {
	item, err := txn.Get(indexKey(projectID, id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.Message{}, fmt.Errorf("message %s in project %s: %w", id, projectID, errors.ErrNotFound)
	}
	if err != nil {
		return nil, domain.Message{}, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, domain.Message{}, err
	}
	item, err = txn.Get(key)
	if err != nil {
		return nil, domain.Message{}, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, domain.Message{}, err
	}
	message, err := DecodeMessage(value)
	return key, message, err
}

func messagePrefix(projectID domain.ProjectID) string {
	return fmt.Sprintf("msg:%s:", projectID)
}

func indexPrefix(projectID domain.ProjectID) string {
	return fmt.Sprintf("idx:msg:%s:", projectID)
}

func messageKey(projectID domain.ProjectID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", messagePrefix(projectID), seq))
}

func indexKey(projectID domain.ProjectID, id uuid.UUID) []byte {
	return []byte(indexPrefix(projectID) + id.String())
}

// DecodeMessage reads one "msg:" value of the log.
func DecodeMessage(value []byte) (domain.Message, error) {
	var dm DiskMessage
	if err := unmarshal(value, &dm); err != nil {
		return domain.Message{}, err
	}
	return toMessage(dm)
}

func fromMessage(message domain.Message) DiskMessage {
	return DiskMessage{
		ID:      message.ID.String(),
		Project: string(message.ProjectID),
		Sender:  message.SenderID,
		Kind:    string(message.Kind),
		Body:    message.Body,
		Deleted: message.Deleted,
		At:      message.CreatedAt.UnixNano(),
	}
}

func toMessage(dm DiskMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(dm.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:        parsedID,
		ProjectID: domain.ProjectID(dm.Project),
		SenderID:  dm.Sender,
		Kind:      domain.Kind(dm.Kind),
		Body:      dm.Body,
		Deleted:   dm.Deleted,
		CreatedAt: time.Unix(0, dm.At).UTC(),
	}, nil
}
