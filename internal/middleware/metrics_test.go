package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/telemetry"
)

func TestPrometheusMiddleware_UsesRouteTemplate(t *testing.T) {
	m := telemetry.NewMetrics("ticketgate-test", prometheus.NewRegistry())
	router := gin.New()
	router.Use(PrometheusMiddleware(m))
	router.POST("/dashboard/staff/users/:id/permissions", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/dashboard/staff/users/"+id+"/permissions", nil)
		router.ServeHTTP(w, req)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/dashboard/staff/users/:id/permissions", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
}
