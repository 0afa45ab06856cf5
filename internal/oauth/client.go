package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/apperr"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/user"
)

// DefaultScopes are requested when no scopes are configured.
var DefaultScopes = []string{"identify"}

// Endpoints is the fixed endpoint set of the identity provider.
type Endpoints struct {
	AuthorizeURL string
	TokenURL     string
	UserinfoURL  string
}

// Identity is the subset of the provider's userinfo document used by the service.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// AvatarURL returns an absolute avatar URL, expanding bare Discord avatar hashes.
func (i Identity) AvatarURL() string {
	switch {
	case i.Avatar == "":
		return ""
	case strings.HasPrefix(i.Avatar, "http://"), strings.HasPrefix(i.Avatar, "https://"):
		return i.Avatar
	default:
		return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", i.ID, i.Avatar)
	}
}

// Client wraps the three remote operations of the identity provider:
// verify a token, exchange an authorization code and refresh a token pair.
// It is stateless and safe for concurrent use.
type Client struct {
	cfg         oauth2.Config
	userinfoURL string
	httpClient  *http.Client
}

// NewClient creates a provider client for the given endpoints.
func NewClient(endpoints Endpoints, clientID, clientSecret, redirectURI string, scopes []string, timeout time.Duration) *Client {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoints.AuthorizeURL,
				TokenURL:  endpoints.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userinfoURL: endpoints.UserinfoURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Discover resolves the endpoint set from the issuer's OIDC discovery document.
func Discover(ctx context.Context, httpClient *http.Client, issuer string) (Endpoints, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return Endpoints{}, fmt.Errorf("OIDC discovery failed: %w", err)
	}

	var claims struct {
		UserinfoEndpoint string `json:"userinfo_endpoint"`
	}
	if err := provider.Claims(&claims); err != nil {
		return Endpoints{}, fmt.Errorf("failed to parse discovery document: %w", err)
	}
	if claims.UserinfoEndpoint == "" {
		return Endpoints{}, errors.New("discovery document has no userinfo_endpoint")
	}

	ep := provider.Endpoint()
	return Endpoints{
		AuthorizeURL: ep.AuthURL,
		TokenURL:     ep.TokenURL,
		UserinfoURL:  claims.UserinfoEndpoint,
	}, nil
}

// AuthCodeURL builds the authorization URL with state and a PKCE S256 challenge.
func (c *Client) AuthCodeURL(state, verifier string) string {
	return c.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// ExchangeCode exchanges a single-use authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (user.TokenPair, error) {
	opts := []oauth2.AuthCodeOption{}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := c.cfg.Exchange(c.withHTTPClient(ctx), code, opts...)
	if err != nil {
		return user.TokenPair{}, providerError("exchange code", err)
	}
	return tokenPair("exchange code", tok)
}

// Refresh exchanges a refresh token for a new token pair. When the provider
// does not rotate the refresh token the presented one is kept.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (user.TokenPair, error) {
	src := c.cfg.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return user.TokenPair{}, providerError("refresh token", err)
	}
	return tokenPair("refresh token", tok)
}

// Verify reports whether the provider accepts the access token. Every failure,
// including transport errors, means "not live".
func (c *Client) Verify(ctx context.Context, accessToken string) bool {
	if accessToken == "" {
		return false
	}
	resp, err := c.userinfo(ctx, accessToken)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Identity fetches the userinfo document for the access token.
func (c *Client) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	resp, err := c.userinfo(ctx, accessToken)
	if err != nil {
		return nil, &apperr.ProviderError{Op: "fetch identity", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.ProviderError{Op: "fetch identity", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperr.ProviderError{
			Op:         "fetch identity",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("userinfo returned %s", strings.TrimSpace(string(body))),
		}
	}

	var doc struct {
		ID                string `json:"id"`
		Sub               string `json:"sub"`
		Username          string `json:"username"`
		PreferredUsername string `json:"preferred_username"`
		Avatar            string `json:"avatar"`
		Picture           string `json:"picture"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &apperr.ProviderError{Op: "fetch identity", Err: fmt.Errorf("failed to parse userinfo: %w", err)}
	}

	id := Identity{ID: doc.ID, Username: doc.Username, Avatar: doc.Avatar}
	if id.ID == "" {
		id.ID = doc.Sub
	}
	if id.Username == "" {
		id.Username = doc.PreferredUsername
	}
	if id.Avatar == "" {
		id.Avatar = doc.Picture
	}
	if id.ID == "" {
		return nil, &apperr.ProviderError{Op: "fetch identity", Err: errors.New("userinfo has no subject")}
	}
	return &id, nil
}

func (c *Client) userinfo(ctx context.Context, accessToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func tokenPair(op string, tok *oauth2.Token) (user.TokenPair, error) {
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return user.TokenPair{}, &apperr.ProviderError{Op: op, Err: errors.New("token response lacks an access or refresh token")}
	}
	return user.TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

func providerError(op string, err error) error {
	pe := &apperr.ProviderError{Op: op, Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		pe.StatusCode = re.Response.StatusCode
	}
	return pe
}
