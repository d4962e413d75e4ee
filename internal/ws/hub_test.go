package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"broadcast-service/internal/mocks"
	"broadcast-service/internal/models"
	"broadcast-service/internal/repositories"
	"broadcast-service/internal/telemetry"
)

func joinAll(t *testing.T, hub *Hub, peers ...*fakePeer) {
	t.Helper()
	for _, p := range peers {
		require.NoError(t, hub.Join(p))
	}
}

func TestHubJoinSendsSingleWelcome(t *testing.T) {
	hub := NewHub(repositories.NewMemoryMessageRepo(0), WithWelcomeMessage("hi there"))
	a := newFakePeer("a")

	require.NoError(t, hub.Join(a))

	msgs := a.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.KindConnection, msgs[0].Kind)
	assert.Equal(t, "hi there", msgs[0].Body)
	assert.Zero(t, msgs[0].ID)
	assert.Equal(t, 1, hub.Registry().Len())
}

func TestHubJoinWelcomePrecedesBroadcasts(t *testing.T) {
	hub := NewHub(repositories.NewMemoryMessageRepo(0))
	a := newFakePeer("a")
	joinAll(t, hub, a)

	b := newFakePeer("b")
	// A broadcast racing the join must not be the first frame b sees.
	b.onSend = func([]byte) {
		if len(b.frames) == 0 {
			assert.Equal(t, 1, hub.Registry().Len(), "b registered before its welcome")
		}
	}
	require.NoError(t, hub.Join(b))
	hub.HandleInbound(context.Background(), a, []byte(`{"type":"broadcast","message":"x"}`))

	msgs := b.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.KindConnection, msgs[0].Kind)
	assert.Equal(t, models.KindBroadcast, msgs[1].Kind)
}

func TestHubJoinFailsWhenWelcomeCannotBeSent(t *testing.T) {
	hub := NewHub(repositories.NewMemoryMessageRepo(0))
	a := newFakePeer("a")
	a.sendErr = errors.New("closed")

	require.Error(t, hub.Join(a))
	assert.Equal(t, 0, hub.Registry().Len())
}

func TestHubBroadcastReachesEveryPeerIncludingSender(t *testing.T) {
	store := repositories.NewMemoryMessageRepo(0)
	hub := NewHub(store)
	a, b := newFakePeer("a"), newFakePeer("b")
	joinAll(t, hub, a, b)

	hub.HandleInbound(context.Background(), a, []byte(`{"type":"broadcast","message":"hello","sender":"Alice"}`))

	recent, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	for _, p := range []*fakePeer{a, b} {
		msgs := p.messages(t)
		require.Len(t, msgs, 2, "peer %s", p.id)
		got := msgs[1]
		assert.Equal(t, models.KindBroadcast, got.Kind)
		assert.Equal(t, "hello", got.Body)
		assert.Equal(t, "Alice", got.Sender)
		assert.Equal(t, recent[0].ID, got.ID)
		assert.True(t, recent[0].Timestamp.Equal(got.Timestamp))
	}
}

func TestHubDefaultsSenderToAnonymous(t *testing.T) {
	store := repositories.NewMemoryMessageRepo(0)
	hub := NewHub(store)
	a := newFakePeer("a")
	joinAll(t, hub, a)

	hub.HandleInbound(context.Background(), a, []byte(`{"type":"broadcast","message":"one"}`))
	hub.HandleInbound(context.Background(), a, []byte(`{"type":"broadcast","message":"two","sender":"   "}`))

	recent, err := store.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	for _, m := range recent {
		assert.Equal(t, models.DefaultSender, m.Sender)
	}
}

func TestHubIgnoresClientTimestamp(t *testing.T) {
	store := repositories.NewMemoryMessageRepo(0)
	hub := NewHub(store)
	a := newFakePeer("a")
	joinAll(t, hub, a)

	hub.HandleInbound(context.Background(), a, []byte(`{"type":"broadcast","message":"m","timestamp":"1999-01-01T00:00:00Z","id":42}`))

	msgs := a.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[1].ID)
	assert.Greater(t, msgs[1].Timestamp.Year(), 1999)
}

func TestHubMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":        `hello`,
		"array":           `[1,2]`,
		"missing type":    `{"message":"x"}`,
		"empty object":    `{}`,
		"missing message": `{"type":"broadcast"}`,
		"empty message":   `{"type":"broadcast","message":""}`,
		"wrong type":      `{"type":"broadcast","message":5}`,
		"truncated":       `{"type":"broadcast","message":"x"`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			store := repositories.NewMemoryMessageRepo(0)
			hub := NewHub(store)
			a, b := newFakePeer("a"), newFakePeer("b")
			joinAll(t, hub, a, b)

			hub.HandleInbound(context.Background(), a, []byte(payload))

			msgs := a.messages(t)
			require.Len(t, msgs, 2)
			assert.Equal(t, models.KindError, msgs[1].Kind)
			assert.NotEmpty(t, msgs[1].Body)
			assert.Len(t, b.messages(t), 1)

			recent, err := store.Recent(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, recent)
		})
	}
}

func TestHubRejectsOversizedBody(t *testing.T) {
	hub := NewHub(repositories.NewMemoryMessageRepo(0))
	a := newFakePeer("a")
	joinAll(t, hub, a)

	body := make([]byte, 5000)
	for i := range body {
		body[i] = 'x'
	}
	hub.HandleInbound(context.Background(), a, []byte(fmt.Sprintf(`{"type":"broadcast","message":%q}`, body)))

	msgs := a.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.KindError, msgs[1].Kind)
	assert.Contains(t, msgs[1].Body, "message")
}

func TestHubIgnoresUnknownType(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	hub := NewHub(store)
	a, b := newFakePeer("a"), newFakePeer("b")
	joinAll(t, hub, a, b)

	frames := []string{
		`{"type":"ping"}`,
		fmt.Sprintf(`{"type":"ping","message":%q}`, strings.Repeat("x", 5000)),
		fmt.Sprintf(`{"type":"typing","sender":%q}`, strings.Repeat("y", 100)),
		`{"type":"typing","message":""}`,
	}
	for _, f := range frames {
		hub.HandleInbound(context.Background(), a, []byte(f))
	}

	assert.Len(t, a.messages(t), 1)
	assert.Len(t, b.messages(t), 1)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHubStorageUnavailableNotifiesSenderOnly(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	hub := NewHub(store)
	a, b := newFakePeer("a"), newFakePeer("b")
	joinAll(t, hub, a, b)

	store.On("Append", mock.Anything, models.KindBroadcast, "hello", "Alice").
		Return(nil, fmt.Errorf("%w: connection refused", repositories.ErrStorageUnavailable)).Once()

	hub.HandleInbound(context.Background(), a, []byte(`{"type":"broadcast","message":"hello","sender":"Alice"}`))

	msgs := a.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.KindError, msgs[1].Kind)
	assert.Equal(t, noticeStorageUnavailable, msgs[1].Body)
	assert.Len(t, b.messages(t), 1)
	assert.Equal(t, 2, hub.Registry().Len())
	store.AssertExpectations(t)
}

func TestHubStorageUnavailableEmitsAudit(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.broadcast", "broadcast-service", "test")
	hub := NewHub(store, WithAuditEmitter(emitter))
	a := newFakePeer("a")
	joinAll(t, hub, a)

	store.On("Append", mock.Anything, models.KindBroadcast, "hello", models.DefaultSender).
		Return(nil, fmt.Errorf("%w: disk full", repositories.ErrStorageUnavailable)).Once()
	publisher.On("Publish", mock.Anything, "audit.broadcast", mock.MatchedBy(func(e telemetry.AuditEnvelope) bool {
		return e.ConnID != nil && *e.ConnID == "a" && e.Payload.Level == telemetry.LevelError
	})).Return(nil).Once()

	hub.HandleInbound(context.Background(), a, []byte(`{"type":"broadcast","message":"hello"}`))

	store.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestHubSendFailureDoesNotAbortFanout(t *testing.T) {
	hub := NewHub(repositories.NewMemoryMessageRepo(0))
	a, b, c := newFakePeer("a"), newFakePeer("b"), newFakePeer("c")
	joinAll(t, hub, a, b, c)
	b.sendErr = errors.New("broken pipe")

	hub.HandleInbound(context.Background(), a, []byte(`{"type":"broadcast","message":"hi"}`))

	assert.Len(t, a.messages(t), 2)
	assert.Len(t, c.messages(t), 2)
	assert.Equal(t, 1, b.closed)
}

func TestHubWritesBeforeBroadcasting(t *testing.T) {
	store := repositories.NewMemoryMessageRepo(0)
	hub := NewHub(store)
	a := newFakePeer("a")
	joinAll(t, hub, a)

	b := newFakePeer("b")
	joinAll(t, hub, b)
	b.onSend = func(payload []byte) {
		recent, err := store.Recent(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, recent, 1, "broadcast visible before it was stored")
		assert.Contains(t, string(payload), fmt.Sprintf(`"id":%d`, recent[0].ID))
	}

	hub.HandleInbound(context.Background(), a, []byte(`{"type":"broadcast","message":"persisted"}`))
	assert.Len(t, b.messages(t), 2)
}

func TestHubLeaveIsSilentAndIdempotent(t *testing.T) {
	hub := NewHub(repositories.NewMemoryMessageRepo(0))
	a, b := newFakePeer("a"), newFakePeer("b")
	joinAll(t, hub, a, b)

	hub.Leave(a)
	hub.Leave(a)

	assert.Equal(t, 1, hub.Registry().Len())
	assert.Len(t, b.messages(t), 1)
}

func TestHubShutdownClosesPeers(t *testing.T) {
	hub := NewHub(repositories.NewMemoryMessageRepo(0))
	a, b := newFakePeer("a"), newFakePeer("b")
	joinAll(t, hub, a, b)

	hub.Shutdown()

	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
}
