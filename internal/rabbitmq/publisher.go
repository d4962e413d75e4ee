// Package rabbitmq publishes channel events to a topic exchange. When no
// broker is configured or reachable it degrades to a logging noop so the
// channel itself never depends on AMQP.
package rabbitmq

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultPublishTimeout = 2 * time.Second

// Publisher publishes operational and audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// Options configures NewPublisher.
type Options struct {
	URL      string
	Exchange string
	// AppID is stamped on every delivery, usually the service name.
	AppID string
	// PublishTimeout bounds a single publish. Default 2s.
	PublishTimeout time.Duration
}

// eventKinder is implemented by envelopes that name their event type.
type eventKinder interface {
	EventKind() string
}

// NewPublisher declares the exchange and returns an AMQP publisher, or a
// noop publisher recording why AMQP is off.
func NewPublisher(opts Options) Publisher {
	if opts.URL == "" {
		log.Printf("rabbitmq disabled, using noop: empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}

	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		return noopPublisher{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	// durable topic exchange; consumers bind ws_events.* and broadcasts.*
	if err := ch.ExchangeDeclare(opts.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	log.Printf("rabbitmq connected exchange=%s app_id=%s", opts.Exchange, opts.AppID)
	return &amqpPublisher{conn: conn, ch: ch, opts: opts}
}

type amqpPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	opts Options

	mu     sync.Mutex
	closed bool
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return p.PublishJSON(ctx, routingKey, event, nil)
}

func (p *amqpPublisher) PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		AppId:        p.opts.AppID,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{},
		Body:         body,
	}
	if k, ok := event.(eventKinder); ok {
		msg.Type = k.EventKind()
	}
	for key, value := range headers {
		msg.Headers[key] = value
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.PublishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return amqp.ErrClosed
	}
	if err := p.ch.PublishWithContext(ctx, p.opts.Exchange, routingKey, false, false, msg); err != nil {
		log.Printf("rabbitmq publish failed routing_key=%s: %v", routingKey, err)
		return err
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.ch.Close()
	return p.conn.Close()
}

type noopPublisher struct {
	reason string
}

func (n noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return n.PublishJSON(ctx, routingKey, event, nil)
}

func (noopPublisher) PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	kind := "unknown"
	if k, ok := event.(eventKinder); ok {
		kind = k.EventKind()
	}
	log.Printf("rabbitmq noop publish routing_key=%s event_type=%s request_id=%s", routingKey, kind, headers["x-request-id"])
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports "amqp" or "noop" for startup logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why a noop publisher was chosen.
func PublisherNoopReason(p Publisher) string {
	if n, ok := p.(noopPublisher); ok {
		return n.reason
	}
	return ""
}
