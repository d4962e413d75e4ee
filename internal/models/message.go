package models

import "time"

// Kind classifies a message on the wire.
type Kind string

const (
	KindConnection Kind = "connection"
	KindBroadcast  Kind = "broadcast"
	KindError      Kind = "error"
)

// DefaultSender is used when an inbound broadcast carries no display name.
const DefaultSender = "Anonymous"

// Message represents a channel message. Broadcast messages carry a store
// assigned ID; welcome and error notices are never persisted and have none.
type Message struct {
	ID        int64     `db:"id" json:"id,omitempty"`
	Kind      Kind      `db:"kind" json:"type"`
	Body      string    `db:"body" json:"message"`
	Sender    string    `db:"sender" json:"sender,omitempty"`
	Timestamp time.Time `db:"created_at" json:"timestamp"`
}

// InboundMessage is what clients send to the hub. It has no timestamp field;
// timestamps come from the store.
type InboundMessage struct {
	Type    Kind   `json:"type" validate:"required"`
	Message string `json:"message" validate:"required_if=Type broadcast,max=4096"`
	Sender  string `json:"sender" validate:"max=64"`
}

// NewNotice builds an unpersisted message addressed to a single connection.
func NewNotice(kind Kind, body string) Message {
	return Message{Kind: kind, Body: body, Timestamp: time.Now().UTC()}
}
