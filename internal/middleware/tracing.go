package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware extracts W3C trace context from inbound requests and
// opens a span per handler. Runs after RequestIDMiddleware so the span
// carries the correlation id.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "homare"
	}
	tracer := otel.Tracer(serviceName + "/http")

	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.path", c.Request.URL.Path),
			attribute.String("http.host", c.Request.Host),
		}
		if reqID := RequestIDFromContext(ctx); reqID != "" {
			attrs = append(attrs, attribute.String("homare.request_id", reqID))
		}

		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method+" "+c.Request.URL.Path,
			trace.WithAttributes(attrs...))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		// Span name is finalized from the matched route so unmatched paths
		// do not explode cardinality.
		if route := c.FullPath(); route != "" {
			span.SetName("HTTP " + c.Request.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		span.End()
	}
}
