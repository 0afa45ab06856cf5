package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/apperr"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/authn"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/session"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/user"
)

// testResolver returns a fixed decision and records its calls.
type testResolver struct {
	decision authn.Decision
	calls    int
	raws     []string
	landings []bool
}

func (r *testResolver) Resolve(_ context.Context, raw string, landing bool) authn.Decision {
	r.calls++
	r.raws = append(r.raws, raw)
	r.landings = append(r.landings, landing)
	return r.decision
}

var testCookies = session.NewCookieConfig("session", 7*24*time.Hour, false)

func principal(perms user.Permission) *authn.Principal {
	return &authn.Principal{
		User:    user.User{ID: "100", Permissions: perms},
		Session: session.Session{ID: strings.Repeat("a", 64), UserID: "100"},
	}
}

func newGateRouter(r *testResolver, handlers map[string]gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(SessionGate(r, testCookies))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	router.GET("/", ok)
	router.GET("/api/auth/login", ok)
	router.GET("/healthz", ok)
	for path, h := range handlers {
		router.GET(path, h)
	}
	return router
}

func serve(router *gin.Engine, path string, cookie string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: cookie})
	}
	router.ServeHTTP(w, req)
	return w
}

func TestSessionGate_BypassRoutes(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Redirect, Path: "/"}}
	router := newGateRouter(r, nil)

	for _, path := range []string{"/api/auth/login", "/healthz"} {
		w := serve(router, path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.Equal(t, 0, r.calls)
	assert.True(t, bypassed("/metrics"))
	assert.False(t, bypassed("/api/authx"))
}

func TestSessionGate_Redirect(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Redirect, State: authn.StateAbsent, Path: "/"}}
	var reached bool
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/dashboard/user": func(c *gin.Context) { reached = true },
	})

	w := serve(router, "/dashboard/user", "")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.Empty(t, w.Header().Get("Set-Cookie"))
	assert.False(t, reached)
	assert.Equal(t, []bool{false}, r.landings)
}

func TestSessionGate_ClearAndRedirect(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.ClearAndRedirect, State: authn.StateMalformed, Path: "/"}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/dashboard/user": func(c *gin.Context) { c.Status(http.StatusOK) },
	})

	w := serve(router, "/dashboard/user", "garbage")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	setCookie := w.Header().Get("Set-Cookie")
	assert.Contains(t, setCookie, "session=;")
	assert.Contains(t, setCookie, "Max-Age=0")
	assert.Equal(t, []string{"garbage"}, r.raws)
}

func TestSessionGate_PropagateStorageError(t *testing.T) {
	r := &testResolver{decision: authn.Decision{
		Outcome: authn.Propagate,
		State:   authn.StateFailed,
		Err:     apperr.Storage("lookup session", errors.New("connection refused")),
	}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/dashboard/user": func(c *gin.Context) { c.Status(http.StatusOK) },
	})

	w := serve(router, "/dashboard/user", "anything")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "GATE_STORAGE_UNAVAILABLE")
}

func TestSessionGate_ContinueStoresPrincipal(t *testing.T) {
	p := principal(user.PermUser)
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAuthenticated, Principal: p}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/dashboard/user": func(c *gin.Context) {
			got, ok := GetPrincipal(c)
			require.True(t, ok)
			assert.Same(t, p, got)
			c.Status(http.StatusOK)
		},
	})

	w := serve(router, "/dashboard/user", "cookie")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, r.calls)
}

func TestSessionGate_LandingFlag(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAbsent}}
	router := newGateRouter(r, nil)

	w := serve(router, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []bool{true}, r.landings)
}

func TestSessionGate_WritesRotatedCredential(t *testing.T) {
	r := &testResolver{decision: authn.Decision{
		Outcome:    authn.Continue,
		State:      authn.StateAuthenticated,
		Principal:  principal(user.PermUser),
		Credential: "rotated-value",
	}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/dashboard/user": func(c *gin.Context) {
			assert.Contains(t, c.Writer.Header().Get("Set-Cookie"), "session=rotated-value", "cookie is written before downstream runs")
			c.Status(http.StatusOK)
		},
	})

	w := serve(router, "/dashboard/user", "old-value")
	assert.Equal(t, http.StatusOK, w.Code)
	setCookie := w.Header().Get("Set-Cookie")
	assert.Contains(t, setCookie, "HttpOnly")
	assert.Contains(t, setCookie, "SameSite=Lax")
	assert.Contains(t, setCookie, "Path=/")
}

func TestSessionGate_DownstreamErrorRedirectsToDashboard(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAuthenticated, Principal: principal(user.PermUser)}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/dashboard/staff": func(c *gin.Context) {
			_ = c.Error(apperr.NewHTTPError(http.StatusForbidden, "GATE_FORBIDDEN", "moderator permission required"))
			c.Abort()
		},
	})

	w := serve(router, "/dashboard/staff", "cookie")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard/user", w.Header().Get("Location"))
}

func TestSessionGate_DownstreamErrorOnDashboardPropagates(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAuthenticated, Principal: principal(user.PermUser)}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/dashboard/user": func(c *gin.Context) {
			_ = c.Error(apperr.Storage("list users", errors.New("boom")))
			c.Abort()
		},
	})

	w := serve(router, "/dashboard/user", "cookie")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "GATE_STORAGE_UNAVAILABLE")
}

func TestSessionGate_DownstreamProviderErrorPassesThrough(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAuthenticated, Principal: principal(user.PermModerator)}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/dashboard/user": func(c *gin.Context) {
			_ = c.Error(&apperr.ProviderError{Op: "fetch identity", StatusCode: 401, Err: errors.New("unauthorized")})
			c.Abort()
		},
	})

	w := serve(router, "/dashboard/user", "cookie")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "GATE_PROVIDER_ERROR")
}

func TestSessionGate_DownstreamErrorWithoutPrincipal(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAbsent}}
	router := gin.New()
	router.Use(SessionGate(r, testCookies))
	router.GET("/", func(c *gin.Context) {
		_ = c.Error(apperr.NewHTTPError(http.StatusTeapot, "GATE_TEAPOT", "short and stout"))
		c.Abort()
	})

	w := serve(router, "/", "")

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Contains(t, w.Body.String(), "GATE_TEAPOT")
}

func TestSessionGate_SuccessfulResponsesAreKept(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAuthenticated, Principal: principal(user.PermUser)}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/dashboard/staff": func(c *gin.Context) {
			_ = c.Error(errors.New("logged only"))
			c.JSON(http.StatusAccepted, gin.H{"ok": true})
		},
	})

	w := serve(router, "/dashboard/staff", "cookie")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestSessionGate_WrittenFailureRedirectsToDashboard(t *testing.T) {
	r := &testResolver{decision: authn.Decision{
		Outcome:    authn.Continue,
		State:      authn.StateAuthenticated,
		Principal:  principal(user.PermUser),
		Credential: "rotated-value",
	}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/tickets": func(c *gin.Context) {
			c.Header("X-Upstream", "tickets")
			c.String(http.StatusInternalServerError, "boom")
		},
	})

	w := serve(router, "/tickets", "cookie")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard/user", w.Header().Get("Location"))
	assert.Empty(t, w.Header().Get("X-Upstream"))
	assert.Contains(t, w.Header().Get("Set-Cookie"), "session=rotated-value")
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestSessionGate_WrittenFailureOnDashboardIsReleased(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAuthenticated, Principal: principal(user.PermUser)}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/dashboard/user": func(c *gin.Context) {
			c.String(http.StatusServiceUnavailable, "boom")
		},
	})

	w := serve(router, "/dashboard/user", "cookie")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "boom", w.Body.String())
}

func TestSessionGate_RedirectResponsesPassThrough(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAuthenticated, Principal: principal(user.PermUser)}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/tickets": func(c *gin.Context) {
			c.Redirect(http.StatusSeeOther, "/tickets/7")
		},
	})

	w := serve(router, "/tickets", "cookie")

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/tickets/7", w.Header().Get("Location"))
}

func TestSessionGate_PanicRedirectsToDashboard(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAuthenticated, Principal: principal(user.PermModerator)}}
	router := newGateRouter(r, map[string]gin.HandlerFunc{
		"/tickets":         func(c *gin.Context) { panic("nil map") },
		"/dashboard/staff": func(c *gin.Context) { panic("nil map") },
	})

	w := serve(router, "/tickets", "cookie")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard/staff", w.Header().Get("Location"))

	w = serve(router, "/dashboard/staff", "cookie")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "GATE_INTERNAL_ERROR")
}

func TestSessionGate_UnknownRouteRedirectsToDashboard(t *testing.T) {
	r := &testResolver{decision: authn.Decision{Outcome: authn.Continue, State: authn.StateAuthenticated, Principal: principal(user.PermUser)}}
	router := newGateRouter(r, nil)
	router.NoRoute(func(c *gin.Context) {
		_ = c.Error(apperr.NewHTTPError(http.StatusNotFound, "GATE_NOT_FOUND", "route not found"))
		c.Abort()
	})

	w := serve(router, "/no-such-route", "cookie")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard/user", w.Header().Get("Location"))
}

func TestSessionGate_UnparseableCookieIsCleared(t *testing.T) {
	authenticator := authn.New(nil, nil, nil, nil, authn.Options{})
	router := gin.New()
	router.Use(SessionGate(authenticator, testCookies))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/dashboard/user", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, raw := range []string{`{"id":"x","token":"y"}`, "not json", `a\b`} {
		for _, path := range []string{"/", "/dashboard/user"} {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("Cookie", "session="+raw)
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusFound, w.Code, "%s %s", path, raw)
			assert.Equal(t, "/", w.Header().Get("Location"), "%s %s", path, raw)
			setCookie := w.Header().Get("Set-Cookie")
			assert.Contains(t, setCookie, "session=;", "%s %s", path, raw)
			assert.Contains(t, setCookie, "Max-Age=0", "%s %s", path, raw)
		}
	}
}
