package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/model"
	"github.com/ppiankov/auditrag/internal/pipeline"
)

const requestIDHeader = "X-Request-ID"

// requestID honours an incoming X-Request-ID or mints one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(pipeline.WithRequestID(c.Request.Context(), id))
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client", clientKey(c)),
			zap.String("request_id", pipeline.RequestIDFrom(c.Request.Context())))
	}
}

func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, err any) {
		logger.Error("handler panicked", zap.Any("panic", err), zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, model.ErrorResponse{Error: "internal error"})
	})
}
