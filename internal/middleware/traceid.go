package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// LoggerKey is the gin context key for the request-scoped logger.
const LoggerKey = "ticketgate_logger"

// OTelTraceIDMiddleware extracts the OpenTelemetry trace ID from the current
// span context and sets it on the Gin context key and response header.
// It stores a request-scoped logger carrying the trace_id field.
func OTelTraceIDMiddleware(base *slog.Logger) gin.HandlerFunc {
	if base == nil {
		base = slog.Default()
	}
	return func(c *gin.Context) {
		logger := base
		spanCtx := trace.SpanContextFromContext(c.Request.Context())
		if spanCtx.HasTraceID() {
			traceID := spanCtx.TraceID().String()
			c.Set(TraceIDKey, traceID)
			c.Header(HeaderTraceID, traceID)
			logger = logger.With(slog.String("trace_id", traceID))
		}
		c.Set(LoggerKey, logger)

		c.Next()
	}
}

// RequestLogger returns the request-scoped logger, enriched with the
// correlation id when present. It falls back to slog.Default.
func RequestLogger(c *gin.Context) *slog.Logger {
	logger := slog.Default()
	if val, ok := c.Get(LoggerKey); ok {
		if l, ok := val.(*slog.Logger); ok {
			logger = l
		}
	}
	if cid := c.GetString(CorrelationIDKey); cid != "" {
		logger = logger.With(slog.String("correlation_id", cid))
	}
	return logger
}
