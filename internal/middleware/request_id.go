package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ctxKey string

// RequestIDKey is the context key carrying the per-request correlation id.
const RequestIDKey ctxKey = "request_id"

// RequestIDMiddleware honors an incoming X-Request-Id header, minting a
// fresh uuid otherwise, so a verdict delivery can be correlated with the
// dispatch that triggered it.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(c.Request.Context(), RequestIDKey, reqID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(RequestIDKey), reqID)
		c.Next()
	}
}

// RequestIDFromContext returns the correlation id, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
