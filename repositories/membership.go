package repositories

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"chat-relay/domain"

	"github.com/dgraph-io/badger/v4"
)

// MembershipRepository keeps project memberships next to the message log.
// Keys are "member:{project}:{user}" and the value is the join time.
type MembershipRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMembershipRepository(db *badger.DB, log *slog.Logger) MembershipRepository {
	return MembershipRepository{db: db, log: log}
}

func (r MembershipRepository) IsMember(_ context.Context, projectID domain.ProjectID, userID string) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(memberKey(projectID, userID))
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Join is idempotent: the original join time is kept.
func (r MembershipRepository) Join(_ context.Context, projectID domain.ProjectID, userID string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		key := memberKey(projectID, userID)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		r.log.Debug("New project member", "project_id", projectID, "user_id", userID)
		return txn.Set(key, []byte(strconv.FormatInt(time.Now().UTC().UnixNano(), 10)))
	})
}

func memberKey(projectID domain.ProjectID, userID string) []byte {
	return []byte(fmt.Sprintf("member:%s:%s", projectID, userID))
}
