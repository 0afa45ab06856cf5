package handler

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/middleware"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/session"
)

// Identity headers set on every proxied request. Client-supplied values are dropped.
const (
	HeaderUserID          = "X-Ticketgate-User-Id"
	HeaderUserPermissions = "X-Ticketgate-Permissions"
	HeaderSessionID       = "X-Ticketgate-Session"
)

// ProxyHandler forwards authenticated requests to the ticketing application,
// replacing the session cookie with identity headers. Provider tokens never
// leave the gate.
type ProxyHandler struct {
	upstream *url.URL
	proxy    *httputil.ReverseProxy
	cookies  session.CookieConfig
	logger   *slog.Logger
}

// NewProxyHandler creates a new reverse proxy handler targeting the upstream URL.
func NewProxyHandler(upstreamURL string, cookies session.CookieConfig, timeout time.Duration, logger *slog.Logger) (*ProxyHandler, error) {
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &ProxyHandler{upstream: target, cookies: cookies, logger: logger}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = &http.Transport{
		ResponseHeaderTimeout: timeout,
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.logger.Error("upstream request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"GATE_UPSTREAM_UNAVAILABLE"}`))
	}
	h.proxy = proxy
	return h, nil
}

// Handle proxies the request for the principal resolved by the session gate.
func (h *ProxyHandler) Handle(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "GATE_PROXY_NO_SESSION",
			"message": "Session not found",
		})
		return
	}

	req := c.Request
	req.Header.Del(HeaderUserID)
	req.Header.Del(HeaderUserPermissions)
	req.Header.Del(HeaderSessionID)
	req.Header.Set(HeaderUserID, p.User.ID)
	req.Header.Set(HeaderUserPermissions, strconv.FormatInt(int64(p.Permissions()), 10))
	req.Header.Set(HeaderSessionID, session.ShortID(p.Session.ID))

	// Propagate correlation headers.
	if cid := c.GetString(middleware.CorrelationIDKey); cid != "" {
		req.Header.Set(middleware.HeaderCorrelationID, cid)
	}
	if tid := c.GetString(middleware.TraceIDKey); tid != "" {
		req.Header.Set(middleware.HeaderTraceID, tid)
	}

	stripCookie(req, h.cookies.Name)

	h.proxy.ServeHTTP(c.Writer, req)
}

// stripCookie removes the named cookie and keeps the others.
func stripCookie(r *http.Request, name string) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, ck := range cookies {
		if ck.Name != name {
			r.AddCookie(ck)
		}
	}
}
