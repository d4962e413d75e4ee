package ws

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"broadcast-service/internal/models"
)

type fakePeer struct {
	id      string
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  int
	onSend  func([]byte)
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (f *fakePeer) ID() string { return f.id }

func (f *fakePeer) Send(payload []byte) error {
	if f.onSend != nil {
		f.onSend(payload)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, append([]byte(nil), payload...))
	return nil
}

func (f *fakePeer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakePeer) messages(t *testing.T) []models.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Message, 0, len(f.frames))
	for _, frame := range f.frames {
		var msg models.Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		out = append(out, msg)
	}
	return out
}
