package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/apperr"
)

// Store is the interface for session persistence.
type Store interface {
	// Create persists a new session.
	Create(ctx context.Context, s Session) error

	// Lookup returns the session matching both id and token, or nil if none does.
	Lookup(ctx context.Context, id, token string) (*Session, error)

	// RotateToken replaces the validation token of an existing session.
	RotateToken(ctx context.Context, id, newToken string) error

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteAllForUser removes every session owned by userID.
	DeleteAllForUser(ctx context.Context, userID string) error

	// SweepExpired removes sessions whose expiry has passed and returns how many were removed.
	SweepExpired(ctx context.Context) (int64, error)
}

// ErrSessionNotFound is returned when a mutation targets a session that no longer exists.
var ErrSessionNotFound = errors.New("session not found")

// expiryGrace keeps Redis keys around past ExpiresAt so a resolution can still
// tell an expired session from an unknown one.
const expiryGrace = 24 * time.Hour

// rotateScript updates the token only when the session still exists.
var rotateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], 'token', ARGV[1], 'token_issued_at', ARGV[2])
  return 1
end
return 0
`)

// RedisStore implements Store backed by Redis (standalone or Sentinel).
//
// Each session is a hash under prefix+id. A per-user set indexes session ids
// for bulk revocation and a sorted set scored by expiry drives the sweep.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ticketgate:session:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

type redisSession struct {
	UserID        string `redis:"user_id"`
	Token         string `redis:"token"`
	CreatedAt     int64  `redis:"created_at"`
	ExpiresAt     int64  `redis:"expires_at"`
	TokenIssuedAt int64  `redis:"token_issued_at"`
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

func (s *RedisStore) expiryKey() string {
	return s.prefix + "expiry"
}

func expiryMember(userID, id string) string {
	return userID + ":" + id
}

// Create persists a new session.
func (s *RedisStore) Create(ctx context.Context, sess Session) error {
	if !sess.ExpiresAt.After(s.now()) {
		return fmt.Errorf("failed to store session: expiry %s is in the past", sess.ExpiresAt)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := s.key(sess.ID)
		pipe.HSet(ctx, key,
			"user_id", sess.UserID,
			"token", sess.Token,
			"created_at", sess.CreatedAt.UnixMilli(),
			"expires_at", sess.ExpiresAt.UnixMilli(),
			"token_issued_at", sess.TokenIssuedAt.UnixMilli(),
		)
		pipe.ExpireAt(ctx, key, sess.ExpiresAt.Add(expiryGrace))
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{
			Score:  float64(sess.ExpiresAt.Unix()),
			Member: expiryMember(sess.UserID, sess.ID),
		})
		return nil
	})
	return apperr.Storage("store session", err)
}

// Lookup returns the session matching both id and token, or nil if none does.
func (s *RedisStore) Lookup(ctx context.Context, id, token string) (*Session, error) {
	cmd := s.client.HGetAll(ctx, s.key(id))
	fields, err := cmd.Result()
	if err != nil {
		return nil, apperr.Storage("lookup session", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var rs redisSession
	if err := cmd.Scan(&rs); err != nil {
		return nil, apperr.Storage("decode session", err)
	}
	if subtle.ConstantTimeCompare([]byte(rs.Token), []byte(token)) != 1 {
		return nil, nil
	}

	return &Session{
		ID:            id,
		UserID:        rs.UserID,
		Token:         rs.Token,
		CreatedAt:     time.UnixMilli(rs.CreatedAt).UTC(),
		ExpiresAt:     time.UnixMilli(rs.ExpiresAt).UTC(),
		TokenIssuedAt: time.UnixMilli(rs.TokenIssuedAt).UTC(),
	}, nil
}

// RotateToken replaces the validation token of an existing session.
func (s *RedisStore) RotateToken(ctx context.Context, id, newToken string) error {
	issuedAt := s.now().UTC().Truncate(time.Millisecond).UnixMilli()
	n, err := rotateScript.Run(ctx, s.client, []string{s.key(id)}, newToken, issuedAt).Int()
	if err != nil {
		return apperr.Storage("rotate session token", err)
	}
	if n == 0 {
		return apperr.Storage("rotate session token", fmt.Errorf("%w: %s", ErrSessionNotFound, ShortID(id)))
	}
	return nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	userID, err := s.client.HGet(ctx, s.key(id), "user_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return apperr.Storage("delete session", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		if userID != "" {
			pipe.SRem(ctx, s.userKey(userID), id)
			pipe.ZRem(ctx, s.expiryKey(), expiryMember(userID, id))
		}
		return nil
	})
	return apperr.Storage("delete session", err)
}

// DeleteAllForUser removes every session owned by userID.
func (s *RedisStore) DeleteAllForUser(ctx context.Context, userID string) error {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return apperr.Storage("list user sessions", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.key(id))
			pipe.ZRem(ctx, s.expiryKey(), expiryMember(userID, id))
		}
		pipe.Del(ctx, s.userKey(userID))
		return nil
	})
	return apperr.Storage("delete user sessions", err)
}

// SweepExpired removes sessions whose expiry has passed and returns how many were removed.
func (s *RedisStore) SweepExpired(ctx context.Context) (int64, error) {
	members, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(s.now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, apperr.Storage("list expired sessions", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			i := strings.LastIndexByte(m, ':')
			if i < 0 {
				pipe.ZRem(ctx, s.expiryKey(), m)
				continue
			}
			userID, id := m[:i], m[i+1:]
			pipe.Del(ctx, s.key(id))
			pipe.SRem(ctx, s.userKey(userID), id)
			pipe.ZRem(ctx, s.expiryKey(), m)
		}
		return nil
	})
	if err != nil {
		return 0, apperr.Storage("sweep expired sessions", err)
	}
	return int64(len(members)), nil
}

// ShortID trims a session id for log and error output.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
