package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"broadcast-service/internal/models"
)

// ErrStorageUnavailable is returned when a message could not be persisted or read.
var ErrStorageUnavailable = errors.New("storage unavailable")

// DefaultRecentLimit is applied when Recent is called with a non-positive limit.
const DefaultRecentLimit = 50

// MessageRepository is the append-only message history of the channel.
// Implementations own id assignment: ids grow with persistence order and are
// never reused.
type MessageRepository interface {
	Append(ctx context.Context, kind models.Kind, body, sender string) (models.Message, error)
	Recent(ctx context.Context, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// messagesAppendLock is the pg_advisory_xact_lock key serialising appends.
// BIGSERIAL hands out ids when an insert starts; holding the lock until
// commit keeps commit order equal to id order.
const messagesAppendLock = 0x6d736773

// Append stores a message and returns it with its id and timestamp.
func (r *MessageRepo) Append(ctx context.Context, kind models.Kind, body, sender string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: begin append: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, messagesAppendLock); err != nil {
		return models.Message{}, fmt.Errorf("%w: lock messages: %v", ErrStorageUnavailable, err)
	}

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (kind, body, sender, created_at) VALUES ($1, $2, $3, $4) RETURNING id, kind, body, sender, created_at`, kind, body, sender, r.now()).
		Scan(&msg.ID, &msg.Kind, &msg.Body, &msg.Sender, &msg.Timestamp)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: insert message: %v", ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("%w: commit message: %v", ErrStorageUnavailable, err)
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

// Recent returns the newest messages first.
func (r *MessageRepo) Recent(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	msgs := make([]models.Message, 0, limit)
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, kind, body, sender, created_at FROM messages ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: select messages: %v", ErrStorageUnavailable, err)
	}
	for i := range msgs {
		msgs[i].Timestamp = msgs[i].Timestamp.UTC()
	}
	return msgs, nil
}
