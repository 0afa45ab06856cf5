package middleware

import (
	"encoding/hex"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderCorrelationID is the HTTP header name for correlation IDs.
	HeaderCorrelationID = "X-Correlation-Id"

	// HeaderTraceID is the HTTP header name for trace IDs.
	HeaderTraceID = "X-Trace-Id"

	// CorrelationIDKey is the gin context key for the correlation ID.
	CorrelationIDKey = "correlation_id"

	// TraceIDKey is the gin context key for the trace ID.
	TraceIDKey = "trace_id"

	maxCorrelationIDLen = 128
)

// CorrelationMiddleware propagates or generates X-Correlation-Id and X-Trace-Id.
// A trace ID already taken from the OpenTelemetry span wins over the header.
// Incoming IDs that are too long or carry non-printable bytes are replaced.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderCorrelationID)
		if !validID(correlationID) {
			correlationID = uuid.NewString()
		}

		traceID := c.GetString(TraceIDKey)
		if traceID == "" {
			traceID = c.GetHeader(HeaderTraceID)
		}
		if !validID(traceID) {
			traceID = generateTraceID()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Set(TraceIDKey, traceID)
		c.Header(HeaderCorrelationID, correlationID)
		c.Header(HeaderTraceID, traceID)

		c.Next()
	}
}

func validID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// generateTraceID produces a 32-character lowercase hex trace ID.
func generateTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
