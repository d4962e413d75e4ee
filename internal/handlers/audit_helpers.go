package handlers

import (
	"github.com/gin-gonic/gin"

	"broadcast-service/internal/middleware"
)

func requestIDFromContext(c *gin.Context) string {
	return middleware.RequestIDFromContext(c)
}
