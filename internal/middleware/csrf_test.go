package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newCSRFRouter() *gin.Engine {
	router := gin.New()
	router.Use(CSRFMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.POST("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestCSRFMiddleware_SafeMethodsExempt(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://evil.example")
	newCSRFRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRFMiddleware_SameOrigin(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "http://tickets.example/test", nil)
	req.Header.Set("Origin", "http://tickets.example")
	newCSRFRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRFMiddleware_CrossOrigin(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "http://tickets.example/test", nil)
	req.Header.Set("Origin", "https://evil.example")
	newCSRFRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "GATE_CSRF_ORIGIN_MISMATCH")
}

func TestCSRFMiddleware_CrossSiteFetchMetadata(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "http://tickets.example/test", nil)
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	newCSRFRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCSRFMiddleware_NoHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "http://tickets.example/test", nil)
	newCSRFRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
