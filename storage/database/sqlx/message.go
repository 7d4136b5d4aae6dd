package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/messaging"
)

type messageRepository struct {
	db *sqlx.DB
}

var _ messaging.Repository = (*messageRepository)(nil) // interface compliance check

func NewMessageRepository(db *sql.DB) *messageRepository {
	return &messageRepository{db: sqlx.NewDb(db, "postgres")}
}

// trapNoRowsErr maps psql "no rows" err to messaging.ErrNotFound
func (repo messageRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return messaging.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo messageRepository) CreateMessage(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	msg.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO message (id, sender_id, receiver_id, subject, content, student_id, created_at,
		                     read_at, deleted_for_sender_at, deleted_for_receiver_at)
		VALUES (:id, :sender_id, :receiver_id, :subject, :content, :student_id, :created_at,
		        :read_at, :deleted_for_sender_at, :deleted_for_receiver_at)`,
		msg,
	)
	if err != nil {
		return messaging.Message{}, errors.Wrap(err, "inserting message")
	}
	return msg, nil
}

func (repo messageRepository) GetMessage(ctx context.Context, id string) (messaging.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return messaging.Message{}, messaging.ErrNotFound
	}
	var msg messaging.Message
	if err := repo.db.GetContext(ctx, &msg, `SELECT * FROM message WHERE id = $1`, id); err != nil {
		return messaging.Message{}, repo.trapNoRowsErr(err, "finding message")
	}
	return msg, nil
}

func (repo messageRepository) QueryMessagesInvolving(ctx context.Context, userID string) ([]messaging.Message, error) {
	var msgs []messaging.Message
	err := repo.db.SelectContext(ctx, &msgs, `
		SELECT * FROM message
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	return msgs, nil
}

func (repo messageRepository) SetMessageRead(ctx context.Context, id string, at time.Time) error {
	// monotonic: a set read_at is never overwritten
	_, err := repo.db.ExecContext(ctx, `UPDATE message SET read_at = $2 WHERE id = $1 AND read_at IS NULL`, id, at.UTC())
	if err != nil {
		return errors.Wrap(err, "stamping message read")
	}
	return nil
}

func (repo messageRepository) SetMessageDeleted(ctx context.Context, id string, forSender, forReceiver bool, at time.Time) error {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE message
		SET deleted_for_sender_at   = CASE WHEN $2 THEN COALESCE(deleted_for_sender_at, $4) ELSE deleted_for_sender_at END,
		    deleted_for_receiver_at = CASE WHEN $3 THEN COALESCE(deleted_for_receiver_at, $4) ELSE deleted_for_receiver_at END
		WHERE id = $1`,
		id, forSender, forReceiver, at.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "stamping message deleted")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return messaging.ErrNotFound
	}

	// a message hidden from both sides is logically gone; drop the row
	_, err = repo.db.ExecContext(ctx, `
		DELETE FROM message
		WHERE id = $1 AND deleted_for_sender_at IS NOT NULL AND deleted_for_receiver_at IS NOT NULL`,
		id,
	)
	if err != nil {
		return errors.Wrap(err, "pruning erased message")
	}
	return nil
}
