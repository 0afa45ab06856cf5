package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/telemetry"
)

// PrometheusMiddleware records request count and latency. Paths are the
// matched route templates so cardinality stays bounded.
func PrometheusMiddleware(m *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
