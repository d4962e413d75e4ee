package repositories

import (
	"context"
	"sync"
	"time"

	"broadcast-service/internal/models"
)

// MemoryMessageRepo keeps history in process memory. A positive retention
// drops the oldest records once exceeded; ids keep growing regardless.
type MemoryMessageRepo struct {
	mu        sync.RWMutex
	msgs      []models.Message
	nextID    int64
	retention int
	now       func() time.Time
}

// NewMemoryMessageRepo constructs MemoryMessageRepo. retention <= 0 keeps
// everything; a positive retention trades full history for bounded memory,
// so evicted broadcasts are no longer retrievable.
func NewMemoryMessageRepo(retention int) *MemoryMessageRepo {
	return &MemoryMessageRepo{
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Append assigns the next id under the write lock and stores the message.
func (r *MemoryMessageRepo) Append(ctx context.Context, kind models.Kind, body, sender string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	msg := models.Message{
		ID:        r.nextID,
		Kind:      kind,
		Body:      body,
		Sender:    sender,
		Timestamp: r.now(),
	}
	r.msgs = append(r.msgs, msg)
	if r.retention > 0 && len(r.msgs) > r.retention {
		r.msgs = append([]models.Message(nil), r.msgs[len(r.msgs)-r.retention:]...)
	}
	return msg, nil
}

// Recent returns a copy of the newest messages, newest first.
func (r *MemoryMessageRepo) Recent(ctx context.Context, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit > len(r.msgs) {
		limit = len(r.msgs)
	}
	out := make([]models.Message, 0, limit)
	for i := len(r.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.msgs[i])
	}
	return out, nil
}
