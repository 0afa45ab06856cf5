package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/apperr"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/events"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/session"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/telemetry"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/user"
)

// ErrTokenRejected is returned by CreateSession when the provider does not
// accept the access token.
var ErrTokenRejected = errors.New("provider access token rejected")

// Options tunes an Authenticator. Zero values select defaults.
type Options struct {
	// Lifetime is the absolute session lifetime. Default 7 days.
	Lifetime time.Duration

	// RotateEvery reissues the session token once it is older than this.
	// Zero disables rotation.
	RotateEvery time.Duration

	Metrics *telemetry.Metrics
	Events  *events.Emitter
	Logger  *slog.Logger
	Now     func() time.Time
}

// Authenticator resolves session credentials into principals and owns the
// session lifecycle (create, destroy, revoke all).
type Authenticator struct {
	sessions  session.Store
	users     user.Repository
	validator TokenValidator
	refresher TokenRefresher

	lifetime    time.Duration
	rotateEvery time.Duration
	metrics     *telemetry.Metrics
	events      *events.Emitter
	logger      *slog.Logger
	now         func() time.Time
	tracer      trace.Tracer
}

// New creates an Authenticator.
func New(sessions session.Store, users user.Repository, validator TokenValidator, refresher TokenRefresher, opts Options) *Authenticator {
	if opts.Lifetime <= 0 {
		opts.Lifetime = session.DefaultLifetime
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Authenticator{
		sessions:    sessions,
		users:       users,
		validator:   validator,
		refresher:   refresher,
		lifetime:    opts.Lifetime,
		rotateEvery: opts.RotateEvery,
		metrics:     opts.Metrics,
		events:      opts.Events,
		logger:      opts.Logger,
		now:         opts.Now,
		tracer:      otel.Tracer("ticketgate/authn"),
	}
}

// Resolve turns a raw cookie value into a routing decision. landing marks the
// anonymous landing route, where absent credentials are allowed and
// authenticated users are sent to their dashboard.
func (a *Authenticator) Resolve(ctx context.Context, raw string, landing bool) Decision {
	ctx, span := a.tracer.Start(ctx, "authn.Resolve")
	defer span.End()

	d := a.resolve(ctx, raw, landing)

	span.SetAttributes(
		attribute.String("authn.state", d.State.String()),
		attribute.String("authn.outcome", d.Outcome.String()),
		attribute.Bool("authn.rotated", d.Credential != ""),
	)
	if d.Outcome == Propagate {
		span.RecordError(d.Err)
		span.SetStatus(codes.Error, "session resolution failed")
	}
	a.metrics.ObserveResolution(d.State.String())
	return d
}

func (a *Authenticator) resolve(ctx context.Context, raw string, landing bool) Decision {
	if raw == "" {
		if landing {
			return Decision{Outcome: Continue, State: StateAbsent}
		}
		return Decision{Outcome: Redirect, State: StateAbsent, Path: LoginPath}
	}

	cred, err := session.ParseCredential(raw)
	if err != nil {
		return reject(StateMalformed, apperr.CredentialMalformed, err)
	}

	sess, err := a.sessions.Lookup(ctx, cred.ID, cred.Token)
	if err != nil {
		return propagate(err)
	}
	if sess == nil {
		return reject(StateUnresolvable, apperr.CredentialUnresolvable, nil)
	}

	// Expiry is authoritative: an expired session never reaches the provider.
	if sess.IsExpired(a.now()) {
		if err := a.sessions.Delete(ctx, sess.ID); err != nil {
			return propagate(err)
		}
		a.events.Emit(ctx, events.SessionExpired, sess.UserID, sess.ID)
		return reject(StateExpired, apperr.CredentialExpired, nil)
	}

	u, err := a.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return propagate(err)
	}
	if u == nil {
		return reject(StateUnresolvable, apperr.CredentialUnresolvable, user.ErrUserNotFound)
	}

	if !a.validator.IsLive(ctx, u.AccessToken) {
		refreshed, d, ok := a.refresh(ctx, *sess, *u)
		if !ok {
			return d
		}
		u = refreshed
	}

	if a.rotateEvery > 0 && !a.now().Before(sess.TokenIssuedAt.Add(a.rotateEvery)) {
		if err := a.rotate(ctx, sess); err != nil {
			return propagate(err)
		}
	}

	d := Decision{
		Outcome:   Continue,
		State:     StateAuthenticated,
		Principal: &Principal{User: *u, Session: *sess},
	}
	if sess.Token != cred.Token {
		d.Credential = sess.Credential().Encode()
	}
	if landing {
		d.Outcome = Redirect
		d.Path = DashboardPath(u.Permissions)
	}
	return d
}

// refresh replaces the user's dead provider tokens. On provider failure the
// session is unusable and the decision equals an unresolvable credential.
func (a *Authenticator) refresh(ctx context.Context, sess session.Session, u user.User) (*user.User, Decision, bool) {
	pair, err := a.refresher.Refresh(ctx, u.RefreshToken)
	a.metrics.ObserveRefresh(err == nil)
	if err != nil {
		logger := telemetry.LogWithTrace(ctx, a.logger)
		logger.InfoContext(ctx, "provider token refresh failed, forcing re-login",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
		if delErr := a.sessions.Delete(ctx, sess.ID); delErr != nil {
			logger.WarnContext(ctx, "failed to delete session after refresh failure",
				slog.String("session", session.ShortID(sess.ID)),
				slog.String("error", delErr.Error()),
			)
		}
		a.events.Emit(ctx, events.ProviderRefreshFailed, u.ID, sess.ID)
		return nil, reject(StateUnresolvable, apperr.CredentialRefreshFailed, err), false
	}

	if err := a.users.UpdateTokens(ctx, u.ID, pair); err != nil {
		return nil, propagate(err), false
	}
	u.AccessToken = pair.AccessToken
	u.RefreshToken = pair.RefreshToken
	a.events.Emit(ctx, events.ProviderTokenRefresh, u.ID, sess.ID)
	return &u, Decision{}, true
}

// rotate reissues the session token in the store before the caller responds.
func (a *Authenticator) rotate(ctx context.Context, sess *session.Session) error {
	token, err := session.NewToken()
	if err != nil {
		return fmt.Errorf("failed to generate session token: %w", err)
	}
	if err := a.sessions.RotateToken(ctx, sess.ID, token); err != nil {
		return err
	}
	sess.Token = token
	sess.TokenIssuedAt = a.now().UTC()
	return nil
}

// CreateSession issues a session for a user whose provider access token is live.
// Expired sessions are swept afterwards.
func (a *Authenticator) CreateSession(ctx context.Context, userID, accessToken string) (session.Session, error) {
	ctx, span := a.tracer.Start(ctx, "authn.CreateSession")
	defer span.End()

	if !a.validator.IsLive(ctx, accessToken) {
		return session.Session{}, ErrTokenRejected
	}

	u, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return session.Session{}, err
	}
	if u == nil {
		return session.Session{}, fmt.Errorf("%w: %s", user.ErrUserNotFound, userID)
	}

	sess, err := session.New(userID, a.now(), a.lifetime)
	if err != nil {
		return session.Session{}, err
	}
	if err := a.sessions.Create(ctx, sess); err != nil {
		return session.Session{}, err
	}
	a.events.Emit(ctx, events.SessionCreated, userID, sess.ID)

	if n, err := a.sessions.SweepExpired(ctx); err != nil {
		a.logger.WarnContext(ctx, "failed to sweep expired sessions", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.DebugContext(ctx, "swept expired sessions", slog.Int64("count", n))
	}
	return sess, nil
}

// DestroySession deletes the session named by a raw cookie value when its
// id and token still match. Unparseable or unknown credentials are ignored.
func (a *Authenticator) DestroySession(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	cred, err := session.ParseCredential(raw)
	if err != nil {
		return nil
	}
	sess, err := a.sessions.Lookup(ctx, cred.ID, cred.Token)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	if err := a.sessions.Delete(ctx, sess.ID); err != nil {
		return err
	}
	a.events.Emit(ctx, events.SessionRevoked, sess.UserID, sess.ID)
	return nil
}

// LogOutAllSessions revokes every session owned by userID.
func (a *Authenticator) LogOutAllSessions(ctx context.Context, userID string) error {
	if err := a.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}
	a.events.Emit(ctx, events.SessionRevokedAll, userID, "")
	return nil
}

func reject(state State, kind apperr.CredentialKind, cause error) Decision {
	return Decision{
		Outcome: ClearAndRedirect,
		State:   state,
		Path:    LoginPath,
		Err:     &apperr.CredentialError{Kind: kind, Err: cause},
	}
}

func propagate(err error) Decision {
	return Decision{Outcome: Propagate, State: StateFailed, Err: err}
}
