package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"broadcast-service/internal/telemetry"
	"broadcast-service/internal/ws"
)

// RegisterDebugRoutes wires debug-only endpoints: a synthetic audit record
// and a dump of the live connection set.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, hub *ws.Hub, enabled bool) {
	if !enabled {
		return
	}

	debug := router.Group("/debug")
	debug.GET("/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		level := telemetry.Level(strings.ToUpper(c.DefaultQuery("level", string(telemetry.LevelInfo))))
		switch level {
		case telemetry.LevelInfo, telemetry.LevelWarn, telemetry.LevelError:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "level must be INFO, WARN or ERROR"})
			return
		}
		emitter.Emit(c.Request.Context(), level, "audit test", requestIDFromContext(c), nil)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "level": level})
	})

	debug.GET("/connections", func(c *gin.Context) {
		ids := hub.Registry().IDs()
		c.JSON(http.StatusOK, gin.H{"connections": len(ids), "conn_ids": ids})
	})
}
