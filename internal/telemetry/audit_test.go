package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"broadcast-service/internal/mocks"
)

func TestEmitBuildsEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.broadcast", "broadcast-service", "test")
	emitter.now = func() time.Time { return time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC) }
	connID := "conn-1"

	var got AuditEnvelope
	publisher.On("Publish", mock.Anything, "audit.broadcast", mock.AnythingOfType("telemetry.AuditEnvelope")).
		Run(func(args mock.Arguments) { got = args.Get(2).(AuditEnvelope) }).
		Return(nil).Once()

	emitter.Emit(context.Background(), LevelError, "storage unavailable", "req-9", &connID)

	publisher.AssertExpectations(t)
	assert.Equal(t, 1, got.SchemaVersion)
	assert.Equal(t, "audit_log", got.EventKind())
	assert.Equal(t, "broadcast-service", got.Service)
	assert.Equal(t, "test", got.Environment)
	assert.Equal(t, "req-9", got.RequestID)
	assert.Equal(t, &connID, got.ConnID)
	assert.Equal(t, AuditPayload{Level: LevelError, Text: "storage unavailable"}, got.Payload)
	assert.Equal(t, "2026-10-16T09:30:00Z", got.OccurredAt)
}

func TestBroadcastDropped(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.broadcast", "broadcast-service", "test")

	publisher.On("Publish", mock.Anything, "audit.broadcast", mock.MatchedBy(func(e AuditEnvelope) bool {
		return e.ConnID != nil && *e.ConnID == "conn-7" &&
			e.Payload.Level == LevelError &&
			e.Payload.Text == "broadcast dropped: disk full"
	})).Return(nil).Once()

	emitter.BroadcastDropped(context.Background(), "conn-7", errors.New("disk full"))

	publisher.AssertExpectations(t)
}

func TestEmitSwallowsPublishError(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.broadcast", "broadcast-service", "test")
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Once()

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), LevelWarn, "x", "", nil)
	})
	publisher.AssertExpectations(t)
}

func TestEmitNilEmitter(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), LevelInfo, "x", "", nil)
		emitter.BroadcastDropped(context.Background(), "c", errors.New("x"))
	})
}
