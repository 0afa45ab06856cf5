package authn

import (
	"context"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/user"
)

// TokenValidator decides whether a provider access token is still live.
type TokenValidator interface {
	IsLive(ctx context.Context, accessToken string) bool
}

// TokenVerifier is the verify operation of the identity provider client.
type TokenVerifier interface {
	Verify(ctx context.Context, accessToken string) bool
}

// TokenRefresher is the refresh operation of the identity provider client.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (user.TokenPair, error)
}

// ProviderValidator asks the provider on every call; results are never cached.
type ProviderValidator struct {
	verifier TokenVerifier
}

// NewProviderValidator creates a TokenValidator backed by the provider.
func NewProviderValidator(verifier TokenVerifier) *ProviderValidator {
	return &ProviderValidator{verifier: verifier}
}

// IsLive reports whether the provider accepts accessToken.
func (v *ProviderValidator) IsLive(ctx context.Context, accessToken string) bool {
	return v.verifier.Verify(ctx, accessToken)
}
