package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/health"
)

// ReadinessChecker runs the dependency checks behind /readyz.
type ReadinessChecker interface {
	RunAll(ctx context.Context) health.HealthResponse
}

// HealthHandler provides liveness and readiness probes.
type HealthHandler struct {
	checker ReadinessChecker
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checker ReadinessChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Healthz is the liveness probe. Returns 200 if the process is alive.
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz is the readiness probe. Checks the credential store and its peers.
func (h *HealthHandler) Readyz(c *gin.Context) {
	resp := h.checker.RunAll(c.Request.Context())
	if resp.Status != health.StatusHealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"checks": resp.Checks,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": resp.Checks})
}
