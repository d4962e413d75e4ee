package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"broadcast-service/internal/models"
)

const (
	badgerMessagePrefix = "msg:"
	badgerSequenceKey   = "seq:messages"
	badgerSequenceLease = 100
)

// BadgerMessageRepo stores history in an embedded Badger database.
// Keys are "msg:{id padded to 20 digits}" so a reverse prefix scan yields
// newest-first order.
type BadgerMessageRepo struct {
	db  *badger.DB
	seq *badger.Sequence
	// mu keeps id assignment and the write in one step so ids follow
	// persistence order.
	mu  sync.Mutex
	now func() time.Time
}

// NewBadgerMessageRepo leases an id sequence from db.
func NewBadgerMessageRepo(db *badger.DB) (*BadgerMessageRepo, error) {
	seq, err := db.GetSequence([]byte(badgerSequenceKey), badgerSequenceLease)
	if err != nil {
		return nil, fmt.Errorf("lease message sequence: %w", err)
	}
	return &BadgerMessageRepo{db: db, seq: seq, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Append stores a message under the next sequence id.
func (r *BadgerMessageRepo) Append(ctx context.Context, kind models.Kind, body, sender string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.seq.Next()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: next id: %v", ErrStorageUnavailable, err)
	}
	msg := models.Message{
		// badger sequences start at zero
		ID:        int64(next) + 1,
		Kind:      kind,
		Body:      body,
		Sender:    sender,
		Timestamp: r.now(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerMessageKey(msg.ID), value)
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: write message: %v", ErrStorageUnavailable, err)
	}
	return msg, nil
}

// Recent scans backwards from the highest key.
func (r *BadgerMessageRepo) Recent(ctx context.Context, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	msgs := make([]models.Message, 0, limit)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerMessagePrefix)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// "~" sorts after every digit, so the seek lands past the newest key.
		for it.Seek(append(prefix, '~')); it.ValidForPrefix(prefix) && len(msgs) < limit; it.Next() {
			var msg models.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan messages: %v", ErrStorageUnavailable, err)
	}
	return msgs, nil
}

// Close returns unused leased ids to the database.
func (r *BadgerMessageRepo) Close() error {
	return r.seq.Release()
}

func badgerMessageKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", badgerMessagePrefix, id))
}
