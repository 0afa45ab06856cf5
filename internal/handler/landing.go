package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/apperr"
)

// LoginEntryPath starts the provider login.
const LoginEntryPath = "/api/auth/login"

// Landing serves the anonymous landing route. Authenticated users never reach
// it; the session gate sends them to their dashboard.
func Landing(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":   serviceName,
			"login_url": LoginEntryPath,
		})
	}
}

// NotFound reports an unknown route so the session gate can map it.
func NotFound(c *gin.Context) {
	_ = c.Error(apperr.NewHTTPError(http.StatusNotFound, "GATE_NOT_FOUND", "route not found"))
	c.Abort()
}
