package ws

import (
	"net/http"
	"time"

	"broadcast-service/internal/observability"
)

// ConnInfo identifies one accepted websocket connection for logs and events.
type ConnInfo struct {
	ConnID      string
	UserAgent   string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnInfo(r *http.Request, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      newConnID(),
		UserAgent:   observability.UserAgentFromRequest(r),
		IP:          observability.IPFromRequest(r),
		RequestID:   observability.RequestIDFromRequest(r),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

func (i ConnInfo) eventPayload(reason string) observability.WSEventPayload {
	return observability.WSEventPayload{
		ConnID:     i.ConnID,
		DurationMS: time.Since(i.ConnectedAt).Milliseconds(),
		Reason:     reason,
		UserAgent:  i.UserAgent,
		IP:         i.IP,
	}
}
