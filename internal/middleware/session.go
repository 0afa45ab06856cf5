package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/apperr"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/authn"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/session"
)

// PrincipalKey is the gin context key where the resolved *authn.Principal is stored.
const PrincipalKey = "ticketgate_principal"

// BypassPrefixes are the path prefixes that skip session resolution.
var BypassPrefixes = []string{"/api/auth", "/healthz", "/readyz", "/metrics"}

// Resolver turns a raw session cookie into a routing decision.
type Resolver interface {
	Resolve(ctx context.Context, raw string, landing bool) authn.Decision
}

// SessionGate resolves the session cookie once per request and applies the
// decision. Downstream failures, whether reported with c.Error, written as a
// 4xx/5xx response or raised as a panic, are mapped after the handler chain
// returns.
func SessionGate(resolver Resolver, cookies session.CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.ToLower(c.Request.URL.Path)
		if bypassed(path) {
			c.Next()
			return
		}

		d := resolver.Resolve(c.Request.Context(), cookies.Read(c.Request), path == authn.LoginPath)
		if d.Credential != "" {
			cookies.Set(c.Writer, d.Credential)
		}

		switch d.Outcome {
		case authn.Redirect:
			c.Redirect(http.StatusFound, d.Path)
			c.Abort()
			return
		case authn.ClearAndRedirect:
			cookies.Clear(c.Writer)
			c.Redirect(http.StatusFound, d.Path)
			c.Abort()
			return
		case authn.Propagate:
			RequestLogger(c).Error("session resolution failed",
				slog.String("path", path),
				slog.String("error", d.Err.Error()),
			)
			abortWithError(c, d.Err)
			return
		}

		if d.Principal != nil {
			c.Set(PrincipalKey, d.Principal)
		}

		header := c.Writer.Header().Clone()
		hw := &heldWriter{ResponseWriter: c.Writer}
		c.Writer = hw
		nextRecovering(c)
		c.Writer = hw.ResponseWriter

		if c.Writer.Written() {
			return
		}
		if !hw.held() && len(c.Errors) == 0 {
			return
		}
		handleDownstreamError(c, path, d.Principal, hw, header)
	}
}

// nextRecovering runs the rest of the chain and turns a panic into a
// request error.
func nextRecovering(c *gin.Context) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if r == http.ErrAbortHandler {
			panic(r)
		}
		RequestLogger(c).Error("handler panicked",
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
		_ = c.Error(fmt.Errorf("handler panic: %v", r))
		c.Abort()
	}()
	c.Next()
}

// handleDownstreamError maps a failed downstream response. Provider failures
// and requests without a principal pass through; anything else sends the
// user back to their dashboard unless that is where the failure happened.
func handleDownstreamError(c *gin.Context, path string, p *authn.Principal, hw *heldWriter, header http.Header) {
	var err error
	if len(c.Errors) > 0 {
		err = c.Errors.Last().Err
	} else {
		err = apperr.NewHTTPError(hw.status, "GATE_DOWNSTREAM_FAILED", http.StatusText(hw.status))
	}

	var provErr *apperr.ProviderError
	target := ""
	if p != nil {
		target = authn.DashboardPath(p.Permissions())
	}
	if errors.As(err, &provErr) || p == nil || target == path {
		if hw.held() {
			hw.release()
			return
		}
		abortWithError(c, err)
		return
	}

	RequestLogger(c).Info("redirecting after downstream failure",
		slog.String("path", path),
		slog.String("target", target),
		slog.String("error", err.Error()),
	)
	resetHeader(c.Writer.Header(), header)
	c.Redirect(http.StatusFound, target)
}

// resetHeader drops headers set by the discarded response.
func resetHeader(h, saved http.Header) {
	for k := range h {
		delete(h, k)
	}
	for k, v := range saved {
		h[k] = v
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.StatusOf(err), gin.H{
		"error": apperr.CodeOf(err),
	})
}

func bypassed(path string) bool {
	for _, prefix := range BypassPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// GetPrincipal retrieves the resolved principal from the gin context.
func GetPrincipal(c *gin.Context) (*authn.Principal, bool) {
	val, exists := c.Get(PrincipalKey)
	if !exists {
		return nil, false
	}
	p, ok := val.(*authn.Principal)
	return p, ok
}
