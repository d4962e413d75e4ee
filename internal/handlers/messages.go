package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"broadcast-service/internal/models"
	"broadcast-service/internal/repositories"
)

const maxHistoryLimit = 500

// MessageHandler serves the channel history.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messageRepo repositories.MessageRepository) *MessageHandler {
	return &MessageHandler{messageRepo: messageRepo}
}

// ListRecent returns the newest messages first.
func (h *MessageHandler) ListRecent(c *gin.Context) {
	limit := repositories.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	msgs, err := h.messageRepo.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Printf("list recent messages request_id=%s: %v", requestIDFromContext(c), err)
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrStorageUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
