package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/apperr"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/session"
)

const sessionColumns = `id, user_id, token, created_at, expires_at, token_issued_at`

// SessionStore は sessions テーブルに対する session.Store の実装。
type SessionStore struct {
	db  *DB
	now func() time.Time
}

// NewSessionStore は新しい SessionStore を生成する。
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// Create はセッションを保存する。
func (s *SessionStore) Create(ctx context.Context, sess session.Session) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.UserID, sess.Token, sess.CreatedAt, sess.ExpiresAt, sess.TokenIssuedAt)
	return apperr.Storage("create session", err)
}

// Lookup は ID とトークンの両方が一致するセッションを 1 回のクエリで取得する。
func (s *SessionStore) Lookup(ctx context.Context, id, token string) (*session.Session, error) {
	var sess session.Session
	err := s.db.conn.GetContext(ctx, &sess,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND token = $2`, id, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("lookup session", err)
	}
	return &sess, nil
}

// RotateToken はセッションの検証トークンを置き換える。
func (s *SessionStore) RotateToken(ctx context.Context, id, newToken string) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE sessions SET token = $2, token_issued_at = $3 WHERE id = $1`,
		id, newToken, s.now().UTC())
	if err != nil {
		return apperr.Storage("rotate session token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("rotate session token", err)
	}
	if n == 0 {
		return apperr.Storage("rotate session token", fmt.Errorf("%w: %s", session.ErrSessionNotFound, session.ShortID(id)))
	}
	return nil
}

// Delete はセッションを削除する。存在しない場合も成功とする。
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return apperr.Storage("delete session", err)
}

// DeleteAllForUser はユーザーの全セッションを削除する。
func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return apperr.Storage("delete user sessions", err)
}

// SweepExpired は期限切れのセッションを削除し、削除件数を返す。
func (s *SessionStore) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, s.now().UTC())
	if err != nil {
		return 0, apperr.Storage("sweep expired sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Storage("sweep expired sessions", err)
	}
	return n, nil
}
