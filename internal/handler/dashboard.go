package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/apperr"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/authn"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/middleware"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/oauth"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/user"
)

// identityFetchLimit bounds concurrent userinfo calls on the staff dashboard.
const identityFetchLimit = 8

// IdentityFetcher fetches a provider profile with a user's access token.
type IdentityFetcher interface {
	Identity(ctx context.Context, accessToken string) (*oauth.Identity, error)
}

// DashboardHandler serves the user and staff dashboards.
type DashboardHandler struct {
	identities IdentityFetcher
	users      user.Repository
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(identities IdentityFetcher, users user.Repository) *DashboardHandler {
	return &DashboardHandler{identities: identities, users: users}
}

// Profile is a user as shown on the dashboards.
type Profile struct {
	ID          string          `json:"id"`
	Username    string          `json:"username"`
	AvatarURL   string          `json:"avatar_url,omitempty"`
	Permissions user.Permission `json:"permissions"`
	IsStaff     bool            `json:"is_staff"`
	IsAdmin     bool            `json:"is_admin"`
}

func newProfile(u user.User, id *oauth.Identity) Profile {
	p := Profile{
		ID:          u.ID,
		Username:    "User " + u.ID,
		Permissions: u.Permissions,
		IsStaff:     u.Permissions.Has(user.PermModerator),
		IsAdmin:     u.Permissions.Has(user.PermAdmin),
	}
	if id != nil {
		p.Username = id.Username
		p.AvatarURL = id.AvatarURL()
	}
	return p
}

// User returns the current user's provider profile.
func (h *DashboardHandler) User(c *gin.Context) {
	p, ok := requirePrincipal(c, user.PermNone)
	if !ok {
		return
	}

	identity, err := h.identities.Identity(c.Request.Context(), p.User.AccessToken)
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": newProfile(p.User, identity)})
}

// Staff lists every user with their provider profile. Profiles that cannot be
// fetched fall back to the stored record.
func (h *DashboardHandler) Staff(c *gin.Context) {
	p, ok := requirePrincipal(c, user.PermModerator)
	if !ok {
		return
	}

	users, err := h.users.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}

	logger := middleware.RequestLogger(c)
	profiles := make([]Profile, len(users))
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(identityFetchLimit)
	for i, u := range users {
		i, u := i, u
		g.Go(func() error {
			identity, err := h.identities.Identity(ctx, u.AccessToken)
			if err != nil {
				logger.Warn("failed to fetch identity for user",
					slog.String("user_id", u.ID),
					slog.String("error", err.Error()),
				)
			}
			profiles[i] = newProfile(u, identity)
			return nil
		})
	}
	_ = g.Wait()

	c.JSON(http.StatusOK, gin.H{
		"user":  newProfile(p.User, nil),
		"users": profiles,
		"stats": gin.H{"total_users": len(users)},
	})
}

type updatePermissionsRequest struct {
	Action string `json:"action" form:"action" binding:"required,oneof=promote_staff demote_staff promote_admin demote_admin"`
}

// UpdatePermissions grants or revokes the staff and admin bits of a user.
func (h *DashboardHandler) UpdatePermissions(c *gin.Context) {
	p, ok := requirePrincipal(c, user.PermAdmin)
	if !ok {
		return
	}

	var req updatePermissionsRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "GATE_INVALID_ACTION", "message": err.Error()})
		return
	}

	targetID := c.Param("id")
	if targetID == p.User.ID && req.Action == "demote_admin" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "GATE_SELF_DEMOTION",
			"message": "cannot remove your own admin permissions",
		})
		return
	}

	ctx := c.Request.Context()
	target, err := h.users.GetByID(ctx, targetID)
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "GATE_USER_NOT_FOUND"})
		return
	}

	perms := applyAction(target.Permissions, req.Action)
	if err := h.users.UpdatePermissions(ctx, target.ID, perms); err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}

	middleware.RequestLogger(c).Info("permissions updated",
		slog.String("actor", p.User.ID),
		slog.String("user_id", target.ID),
		slog.String("action", req.Action),
		slog.Int64("permissions", int64(perms)),
	)
	c.JSON(http.StatusOK, gin.H{"success": true, "permissions": perms})
}

func applyAction(perms user.Permission, action string) user.Permission {
	switch action {
	case "promote_staff":
		return perms | user.PermModerator
	case "demote_staff":
		return perms &^ user.PermModerator
	case "promote_admin":
		return perms | user.PermAdmin
	case "demote_admin":
		return perms &^ user.PermAdmin
	}
	return perms
}

// requirePrincipal reports a failure to the gate unless the request carries
// a principal holding perms.
func requirePrincipal(c *gin.Context, perms user.Permission) (*authn.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		_ = c.Error(apperr.NewHTTPError(http.StatusUnauthorized, "GATE_UNAUTHENTICATED", "no session"))
		c.Abort()
		return nil, false
	}
	if !p.Permissions().Has(perms) {
		_ = c.Error(apperr.NewHTTPError(http.StatusForbidden, "GATE_FORBIDDEN", "insufficient permissions"))
		c.Abort()
		return nil, false
	}
	return p, true
}
