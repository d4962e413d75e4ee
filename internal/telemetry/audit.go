// Package telemetry emits audit records for conditions an operator must see,
// such as broadcasts dropped because the message store was unavailable.
package telemetry

import (
	"context"
	"log"
	"time"
)

const auditSchemaVersion = 1

// Level grades an audit record.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Publisher is the sink for audit envelopes.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEmitter is nil-safe: a nil emitter or one without a publisher drops
// every record.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id,omitempty"`
	ConnID        *string      `json:"conn_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

// EventKind names the envelope on the wire.
func (e AuditEnvelope) EventKind() string { return e.EventType }

type AuditPayload struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes one audit record. Publish failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, level Level, text, requestID string, connID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	log.Printf("audit emit: level=%s request_id=%s text=%q", level, requestID, text)
	envelope := AuditEnvelope{
		SchemaVersion: auditSchemaVersion,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		ConnID:        connID,
		Payload:       AuditPayload{Level: level, Text: text},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}

// BroadcastDropped records a broadcast from connID that was rejected because
// it could not be stored.
func (e *AuditEmitter) BroadcastDropped(ctx context.Context, connID string, cause error) {
	e.Emit(ctx, LevelError, "broadcast dropped: "+cause.Error(), "", &connID)
}
