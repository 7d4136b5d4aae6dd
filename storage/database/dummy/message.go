package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/messaging"
)

// messageRepository keeps erased rows around (both stamps set) instead of
// pruning them like the postgres repository does; tests can then observe the
// full deletion state machine.
type messageRepository struct {
	db *messageTable
}

var _ messaging.Repository = (*messageRepository)(nil) // interface compliance check

func NewMessageRepository(db *DB) *messageRepository {
	return &messageRepository{db: db.message}
}

func (repo *messageRepository) CreateMessage(_ context.Context, msg messaging.Message) (messaging.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	msg.ID = uuid.New().String()
	repo.db.table[msg.ID] = &msg
	return msg, nil
}

func (repo *messageRepository) GetMessage(_ context.Context, id string) (messaging.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if msg, ok := repo.db.table[id]; ok {
		return *msg, nil
	}
	return messaging.Message{}, messaging.ErrNotFound
}

func (repo *messageRepository) QueryMessagesInvolving(_ context.Context, userID string) ([]messaging.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	msgs := make([]messaging.Message, 0)
	for _, msg := range repo.db.table {
		if msg.Involves(userID) {
			msgs = append(msgs, *msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (repo *messageRepository) SetMessageRead(_ context.Context, id string, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	msg, ok := repo.db.table[id]
	if !ok {
		return messaging.ErrNotFound
	}
	if !msg.ReadAt.Valid { // monotonic
		msg.ReadAt = null.TimeFrom(at.UTC())
	}
	return nil
}

func (repo *messageRepository) SetMessageDeleted(_ context.Context, id string, forSender, forReceiver bool, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	msg, ok := repo.db.table[id]
	if !ok {
		return messaging.ErrNotFound
	}
	if forSender && !msg.DeletedForSenderAt.Valid {
		msg.DeletedForSenderAt = null.TimeFrom(at.UTC())
	}
	if forReceiver && !msg.DeletedForReceiverAt.Valid {
		msg.DeletedForReceiverAt = null.TimeFrom(at.UTC())
	}
	return nil
}
