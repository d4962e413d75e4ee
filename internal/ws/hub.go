package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"broadcast-service/internal/models"
	"broadcast-service/internal/observability"
	"broadcast-service/internal/repositories"
	"broadcast-service/internal/telemetry"
)

const defaultWelcome = "Connected to broadcast channel"

// Error notice texts sent to a single connection.
const (
	noticeInvalidFormat      = "invalid message format"
	noticeStorageUnavailable = "message could not be stored, please retry"
)

// Hub persists inbound broadcasts and fans them out to every registered peer.
type Hub struct {
	registry *Registry
	store    repositories.MessageRepository
	audit    *telemetry.AuditEmitter
	validate *validator.Validate
	welcome  string
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithAuditEmitter reports storage failures through e.
func WithAuditEmitter(e *telemetry.AuditEmitter) HubOption {
	return func(h *Hub) { h.audit = e }
}

// WithWelcomeMessage overrides the text of the connection welcome.
func WithWelcomeMessage(text string) HubOption {
	return func(h *Hub) {
		if text != "" {
			h.welcome = text
		}
	}
}

// NewHub creates a hub with its own empty registry.
func NewHub(store repositories.MessageRepository, opts ...HubOption) *Hub {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	h := &Hub{
		registry: NewRegistry(),
		store:    store,
		validate: v,
		welcome:  defaultWelcome,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes the live connection set.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Join greets p and registers it. The welcome is written before registration
// so it is always the first frame p receives.
func (h *Hub) Join(p Peer) error {
	if err := h.sendTo(p, models.NewNotice(models.KindConnection, h.welcome)); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}
	h.registry.Register(p)
	observability.SetWSActive(h.registry.Len())
	log.Printf("hub: conn_id=%s joined, total=%d", p.ID(), h.registry.Len())
	return nil
}

// Leave unregisters p without notifying anyone. Calling it twice is harmless.
func (h *Hub) Leave(p Peer) {
	if h.registry.Unregister(p) {
		observability.SetWSActive(h.registry.Len())
		log.Printf("hub: conn_id=%s left, total=%d", p.ID(), h.registry.Len())
	}
}

// HandleInbound processes one frame received from p.
func (h *Hub) HandleInbound(ctx context.Context, p Peer, raw []byte) {
	ctx, span := otel.Tracer("broadcast-service/ws").Start(ctx, "ws.inbound",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("ws.conn_id", p.ID())),
	)
	defer span.End()

	in, err := h.parse(raw)
	if err != nil {
		span.SetStatus(codes.Error, "protocol error")
		observability.IncRejected("protocol")
		log.Printf("hub: conn_id=%s protocol error: %v", p.ID(), err)
		h.notify(p, models.KindError, err.Error())
		return
	}
	if in.Type != models.KindBroadcast {
		span.SetAttributes(attribute.String("ws.ignored_type", string(in.Type)))
		return
	}

	sender := strings.TrimSpace(in.Sender)
	if sender == "" {
		sender = models.DefaultSender
	}

	msg, err := h.store.Append(ctx, models.KindBroadcast, in.Message, sender)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage unavailable")
		observability.IncRejected("storage")
		log.Printf("hub: conn_id=%s append failed: %v", p.ID(), err)
		h.audit.BroadcastDropped(ctx, p.ID(), err)
		h.notify(p, models.KindError, noticeStorageUnavailable)
		return
	}

	delivered, failed := h.Broadcast(msg)
	span.SetAttributes(
		attribute.Int64("message.id", msg.ID),
		attribute.Int("fanout.delivered", delivered),
		attribute.Int("fanout.failed", failed),
	)
	_ = observability.PublishEvent(ctx, observability.RoutingKeyBroadcasts,
		observability.NewBroadcastEvent(observability.BroadcastEventPayload{
			MessageID: msg.ID,
			Sender:    msg.Sender,
			ConnID:    p.ID(),
			Delivered: delivered,
			Failed:    failed,
		}),
		observability.BuildHeaders("", span.SpanContext().TraceID().String()))
}

// Broadcast sends an already persisted message to every registered peer.
// Peers that cannot be written to are closed; their read loops then leave.
func (h *Hub) Broadcast(msg models.Message) (delivered, failed int) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("hub: marshal message id=%d: %v", msg.ID, err)
		return 0, 0
	}

	delivered, failed = h.registry.ForEach(func(p Peer) error {
		if err := p.Send(payload); err != nil {
			_ = p.Close()
			return err
		}
		return nil
	})
	observability.ObserveBroadcast(delivered, failed)
	return delivered, failed
}

// Shutdown closes every registered peer.
func (h *Hub) Shutdown() {
	closed, _ := h.registry.ForEach(func(p Peer) error {
		return p.Close()
	})
	log.Printf("hub: closed %d connections", closed)
}

func (h *Hub) parse(raw []byte) (models.InboundMessage, error) {
	var in models.InboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return models.InboundMessage{}, errors.New(noticeInvalidFormat)
	}
	// other request kinds are ignored by the caller, whatever they carry
	if in.Type != "" && in.Type != models.KindBroadcast {
		return in, nil
	}
	if err := h.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return models.InboundMessage{}, describeFieldError(verrs[0])
		}
		return models.InboundMessage{}, errors.New(noticeInvalidFormat)
	}
	return in, nil
}

func describeFieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Errorf("field %q is required", fe.Field())
	case "max":
		return fmt.Errorf("field %q exceeds %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("field %q is invalid", fe.Field())
	}
}

func (h *Hub) notify(p Peer, kind models.Kind, body string) {
	if err := h.sendTo(p, models.NewNotice(kind, body)); err != nil {
		log.Printf("hub: notify conn_id=%s failed: %v", p.ID(), err)
	}
}

func (h *Hub) sendTo(p Peer, msg models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.Send(payload)
}
