package session

import (
	"fmt"
	"time"
)

// DefaultLifetime is the absolute lifetime of a session.
const DefaultLifetime = 7 * 24 * time.Hour

// Session binds an opaque client credential to a user for a bounded,
// non-sliding time window.
type Session struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	Token         string    `db:"token"`
	CreatedAt     time.Time `db:"created_at"`
	ExpiresAt     time.Time `db:"expires_at"`
	TokenIssuedAt time.Time `db:"token_issued_at"`
}

// New issues a session for userID with a fresh id and token.
// Timestamps are truncated to milliseconds so every backend stores them exactly.
func New(userID string, now time.Time, lifetime time.Duration) (Session, error) {
	id, err := NewID()
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate session id: %w", err)
	}
	token, err := NewToken()
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}
	created := now.UTC().Truncate(time.Millisecond)
	return Session{
		ID:            id,
		UserID:        userID,
		Token:         token,
		CreatedAt:     created,
		ExpiresAt:     created.Add(lifetime),
		TokenIssuedAt: created,
	}, nil
}

// IsExpired reports whether the absolute expiry lies before now.
func (s Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// Credential returns the client-held half of the session.
func (s Session) Credential() Credential {
	return Credential{ID: s.ID, Token: s.Token}
}
