package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware stashes a request-scoped logger in the gin context.
// The correlation id is attached so downstream log lines line up with
// the X-Request-Id the client saw.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		l := logger
		if reqID := c.GetString(string(RequestIDKey)); reqID != "" {
			l = l.With("request_id", reqID)
		}
		c.Set("logger", l)
		c.Next()
	}
}
