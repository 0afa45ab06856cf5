package user

import (
	"context"
	"errors"
	"time"
)

// Permission is a bitmask of user capabilities.
type Permission int64

const (
	PermNone       Permission = 0
	PermUser       Permission = 1 << 0
	PermModerator  Permission = 1 << 1
	PermAdmin      Permission = 1 << 2
	PermSuperAdmin Permission = 1 << 3
)

// Has reports whether every bit of p is set.
func (m Permission) Has(p Permission) bool {
	return m&p == p
}

// ErrUserNotFound is returned when a user row does not exist.
var ErrUserNotFound = errors.New("user not found")

// TokenPair is an OAuth access/refresh token pair issued by the identity provider.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// User is a provider-authenticated account. Provider tokens never leave the server.
type User struct {
	ID           string     `db:"id"`
	Permissions  Permission `db:"permissions"`
	AccessToken  string     `db:"access_token"`
	RefreshToken string     `db:"refresh_token"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Tokens returns the user's provider token pair.
func (u User) Tokens() TokenPair {
	return TokenPair{AccessToken: u.AccessToken, RefreshToken: u.RefreshToken}
}

// Repository persists users.
type Repository interface {
	// GetByID returns nil, nil when the user does not exist.
	GetByID(ctx context.Context, id string) (*User, error)

	// Upsert inserts a user, or updates only the tokens of an existing one,
	// and returns the stored row.
	Upsert(ctx context.Context, u User) (*User, error)

	UpdateTokens(ctx context.Context, id string, tokens TokenPair) error
	UpdatePermissions(ctx context.Context, id string, perms Permission) error
	List(ctx context.Context) ([]User, error)
}
