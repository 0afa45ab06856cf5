package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/apperr"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/user"
)

const userColumns = `id, permissions, access_token, refresh_token, created_at, updated_at`

// UserRepository は users テーブルに対する user.Repository の実装。
type UserRepository struct {
	db *DB
}

// NewUserRepository は新しい UserRepository を生成する。
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID は ID でユーザーを取得する。存在しない場合は nil, nil を返す。
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := r.db.conn.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("get user", err)
	}
	return &u, nil
}

// Upsert はユーザーを作成する。既に存在する場合はトークンのみを更新し、
// 権限は変更しない。保存後の行を返す。
func (r *UserRepository) Upsert(ctx context.Context, u user.User) (*user.User, error) {
	query := `
		INSERT INTO users (id, permissions, access_token, refresh_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			updated_at = NOW()
		RETURNING ` + userColumns

	var stored user.User
	if err := r.db.conn.GetContext(ctx, &stored, query,
		u.ID, u.Permissions, u.AccessToken, u.RefreshToken); err != nil {
		return nil, apperr.Storage("upsert user", err)
	}
	return &stored, nil
}

// UpdateTokens はプロバイダのトークンペアを置き換える。
func (r *UserRepository) UpdateTokens(ctx context.Context, id string, tokens user.TokenPair) error {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE users SET access_token = $2, refresh_token = $3, updated_at = NOW() WHERE id = $1`,
		id, tokens.AccessToken, tokens.RefreshToken)
	if err != nil {
		return apperr.Storage("update user tokens", err)
	}
	return requireOneRow(res, id)
}

// UpdatePermissions は権限ビットマスクを置き換える。
func (r *UserRepository) UpdatePermissions(ctx context.Context, id string, perms user.Permission) error {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE users SET permissions = $2, updated_at = NOW() WHERE id = $1`, id, perms)
	if err != nil {
		return apperr.Storage("update user permissions", err)
	}
	return requireOneRow(res, id)
}

// List は全ユーザーを作成日時順に返す。
func (r *UserRepository) List(ctx context.Context) ([]user.User, error) {
	var users []user.User
	if err := r.db.conn.SelectContext(ctx, &users,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`); err != nil {
		return nil, apperr.Storage("list users", err)
	}
	return users, nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("read affected rows", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", user.ErrUserNotFound, id)
	}
	return nil
}
