package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"broadcast-service/internal/observability"
)

// HandlerConfig bounds per-connection resources.
type HandlerConfig struct {
	MaxMessageSize int64
	WriteTimeout   time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
}

// ChannelWebSocketHandler accepts websocket connections for the channel.
type ChannelWebSocketHandler struct {
	hub      *Hub
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

// NewChannelWebSocketHandler constructs a ChannelWebSocketHandler.
func NewChannelWebSocketHandler(hub *Hub, cfg HandlerConfig) *ChannelWebSocketHandler {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	return &ChannelWebSocketHandler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the connection, greets it and starts its read loop.
func (h *ChannelWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("broadcast-service/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		return
	}
	info := newConnInfo(c.Request, span.SpanContext().TraceID().String())
	span.End()

	peer := newWSPeer(conn, info, h.cfg.WriteTimeout)
	if err := h.hub.Join(peer); err != nil {
		log.Printf("websocket join failed conn_id=%s: %v", info.ConnID, err)
		_ = peer.Close()
		return
	}

	// The request context ends when this handler returns.
	connCtx := context.WithoutCancel(ctx)
	h.publishWSEvent(connCtx, observability.WSEventConnect, info, "")
	go h.serve(connCtx, peer)
}

func (h *ChannelWebSocketHandler) serve(ctx context.Context, peer *wsPeer) {
	conn := peer.conn
	done := make(chan struct{})
	var closeReason string
	defer func() {
		close(done)
		h.hub.Leave(peer)
		_ = peer.Close()
		h.publishWSEvent(ctx, observability.WSEventDisconnect, peer.info, closeReason)
	}()

	conn.SetReadLimit(h.cfg.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
		closeReason = err.Error()
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	go h.keepalive(peer, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publishWSEvent(ctx, observability.WSEventError, peer.info, closeReason)
			}
			return
		}
		h.hub.HandleInbound(ctx, peer, raw)
	}
}

func (h *ChannelWebSocketHandler) keepalive(peer *wsPeer, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := peer.ping(); err != nil {
				log.Printf("websocket ping failed conn_id=%s: %v", peer.ID(), err)
				_ = peer.Close()
				return
			}
		}
	}
}

func (h *ChannelWebSocketHandler) publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, observability.RoutingKeyWSEvents,
		observability.NewWSEvent(event, info.eventPayload(reason)),
		observability.BuildHeaders(info.RequestID, info.TraceID))
}
