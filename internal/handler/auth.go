package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/apperr"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/authn"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/middleware"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/oauth"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/session"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/user"
)

const (
	// stateCookieName holds the OAuth state for CSRF protection during login.
	stateCookieName = "ticketgate_oauth_state"

	// verifierCookieName holds the PKCE code_verifier during the auth flow.
	verifierCookieName = "ticketgate_pkce_verifier"

	// flowCookieMaxAge bounds the login round trip in seconds.
	flowCookieMaxAge = 300
)

// Provider is the part of the identity provider client used by the browser flow.
type Provider interface {
	AuthCodeURL(state, verifier string) string
	ExchangeCode(ctx context.Context, code, verifier string) (user.TokenPair, error)
	Identity(ctx context.Context, accessToken string) (*oauth.Identity, error)
}

// SessionManager issues and revokes sessions.
type SessionManager interface {
	CreateSession(ctx context.Context, userID, accessToken string) (session.Session, error)
	DestroySession(ctx context.Context, raw string) error
	LogOutAllSessions(ctx context.Context, userID string) error
}

// AuthHandler handles the OAuth2 browser flow and session teardown.
type AuthHandler struct {
	provider Provider
	sessions SessionManager
	users    user.Repository
	cookies  session.CookieConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	provider Provider,
	sessions SessionManager,
	users user.Repository,
	cookies session.CookieConfig,
	logger *slog.Logger,
) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		provider: provider,
		sessions: sessions,
		users:    users,
		cookies:  cookies,
		logger:   logger,
	}
}

// Login starts the authorization code flow with PKCE.
func (h *AuthHandler) Login(c *gin.Context) {
	state, err := generateRandomString(32)
	if err != nil {
		h.logger.Error("failed to generate state", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "GATE_AUTH_STATE_ERROR"})
		return
	}
	verifier := oauth2.GenerateVerifier()

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, state, flowCookieMaxAge, "/", "", h.cookies.Secure, true)
	c.SetCookie(verifierCookieName, verifier, flowCookieMaxAge, "/", "", h.cookies.Secure, true)

	c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state, verifier))
}

// Callback completes the flow: it exchanges the code, records the user and
// issues a fresh session.
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	logger := middleware.RequestLogger(c)

	state, err := c.Cookie(stateCookieName)
	if err != nil || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "GATE_AUTH_STATE_MISSING"})
		return
	}
	if c.Query("state") != state {
		c.JSON(http.StatusBadRequest, gin.H{"error": "GATE_AUTH_STATE_MISMATCH"})
		return
	}

	// Check for error from IdP.
	if errCode := c.Query("error"); errCode != "" {
		logger.Warn("OAuth callback error",
			slog.String("error", errCode),
			slog.String("description", c.Query("error_description")),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       "GATE_AUTH_IDP_ERROR",
			"description": c.Query("error_description"),
		})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "GATE_AUTH_CODE_MISSING"})
		return
	}
	verifier, err := c.Cookie(verifierCookieName)
	if err != nil || verifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "GATE_AUTH_VERIFIER_MISSING"})
		return
	}

	c.SetCookie(stateCookieName, "", -1, "/", "", h.cookies.Secure, true)
	c.SetCookie(verifierCookieName, "", -1, "/", "", h.cookies.Secure, true)

	tokens, err := h.provider.ExchangeCode(ctx, code, verifier)
	if err != nil {
		logger.Error("token exchange failed", slog.String("error", err.Error()))
		respondError(c, err)
		return
	}

	identity, err := h.provider.Identity(ctx, tokens.AccessToken)
	if err != nil {
		logger.Error("failed to fetch identity", slog.String("error", err.Error()))
		respondError(c, err)
		return
	}

	// A login always replaces the session presented with it.
	if err := h.sessions.DestroySession(ctx, h.cookies.Read(c.Request)); err != nil {
		logger.Warn("failed to destroy previous session", slog.String("error", err.Error()))
	}

	stored, err := h.users.Upsert(ctx, user.User{
		ID:           identity.ID,
		Permissions:  user.PermUser,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
	if err != nil {
		logger.Error("failed to store user", slog.String("error", err.Error()))
		respondError(c, err)
		return
	}

	sess, err := h.sessions.CreateSession(ctx, stored.ID, tokens.AccessToken)
	if err != nil {
		logger.Error("failed to create session", slog.String("error", err.Error()))
		if errors.Is(err, authn.ErrTokenRejected) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "GATE_AUTH_TOKEN_REJECTED"})
			return
		}
		respondError(c, err)
		return
	}

	h.cookies.Set(c.Writer, sess.Credential().Encode())
	logger.Info("user logged in",
		slog.String("user_id", stored.ID),
		slog.String("session", session.ShortID(sess.ID)),
	)
	c.Redirect(http.StatusFound, authn.DashboardPath(stored.Permissions))
}

// Logout deletes the presented session, clears the cookie and returns to the
// landing page. It never fails.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.sessions.DestroySession(c.Request.Context(), h.cookies.Read(c.Request)); err != nil {
		middleware.RequestLogger(c).Warn("failed to delete session on logout", slog.String("error", err.Error()))
	}
	h.cookies.Clear(c.Writer)
	c.Redirect(http.StatusFound, authn.LoginPath)
}

// RevokeAll logs the current user out of every session.
func (h *AuthHandler) RevokeAll(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		_ = c.Error(apperr.NewHTTPError(http.StatusUnauthorized, "GATE_UNAUTHENTICATED", "no session"))
		c.Abort()
		return
	}
	if err := h.sessions.LogOutAllSessions(c.Request.Context(), p.User.ID); err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}
	h.cookies.Clear(c.Writer)
	c.Redirect(http.StatusFound, authn.LoginPath)
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperr.StatusOf(err), gin.H{"error": apperr.CodeOf(err)})
}

// generateRandomString generates a hex-encoded random string of the given byte length.
func generateRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
