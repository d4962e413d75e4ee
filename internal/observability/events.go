package observability

import "time"

// Routing keys for events published to the AMQP exchange.
const (
	RoutingKeyWSEvents   = "ws_events.channel"
	RoutingKeyBroadcasts = "broadcasts.channel"
)

// WS lifecycle event names.
const (
	WSEventConnect    = "ws_connect"
	WSEventDisconnect = "ws_disconnect"
	WSEventError      = "ws_error"
)

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// EventKind names the envelope on the wire.
func (e EventEnvelope) EventKind() string { return e.EventType }

// WSEventPayload describes one connection lifecycle step.
type WSEventPayload struct {
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	IP         string `json:"ip,omitempty"`
}

// BroadcastEventPayload summarises one persisted and fanned-out message.
type BroadcastEventPayload struct {
	MessageID int64  `json:"message_id"`
	Sender    string `json:"sender"`
	ConnID    string `json:"conn_id"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

func NewWSEvent(name string, payload WSEventPayload) EventEnvelope {
	return EventEnvelope{
		EventType:  "ws_events",
		EventName:  name,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

func NewBroadcastEvent(payload BroadcastEventPayload) EventEnvelope {
	return EventEnvelope{
		EventType:  "broadcasts",
		EventName:  "broadcast",
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
