package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"price-move-alerts/internal/access"
)

const (
	headerRequestID = "X-Request-ID"
	headerCallerID  = "X-Caller-ID"
	callerKey       = "caller"
)

// requestID tags every request with an id, reusing the inbound header when present.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("RequestID", id)
		c.Writer.Header().Set(headerRequestID, id)
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		ev.Str("request_id", c.GetString("RequestID")).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("caller", access.SanitizeID(c.GetString(callerKey))).
			Msg("http request")
	}
}

// requireCaller rejects command routes without a caller id.
func requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := strings.TrimSpace(c.GetHeader(headerCallerID))
		if caller == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_caller",
				"message": headerCallerID + " header is required",
			})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}
