package persistence

import (
	"context"
	"fmt"
)

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS _migrations (
    version    TEXT        PRIMARY KEY,
    name       TEXT        NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type migration struct {
	version string
	name    string
	sql     string
}

// migrations はバージョン順に適用される。適用済みのものは変更しないこと。
var migrations = []migration{
	{
		version: "0001",
		name:    "create_users",
		sql: `CREATE TABLE IF NOT EXISTS users (
    id            VARCHAR(64) PRIMARY KEY,
    permissions   BIGINT      NOT NULL DEFAULT 0,
    access_token  TEXT        NOT NULL,
    refresh_token TEXT        NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		version: "0002",
		name:    "create_sessions",
		sql: `CREATE TABLE IF NOT EXISTS sessions (
    id              CHAR(64)    PRIMARY KEY,
    user_id         VARCHAR(64) NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    token           CHAR(64)    NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    expires_at      TIMESTAMPTZ NOT NULL,
    token_issued_at TIMESTAMPTZ NOT NULL
)`,
	},
	{
		version: "0003",
		name:    "index_sessions",
		sql: `CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions (expires_at)`,
	},
}

// Migrate は未適用のマイグレーションを順に適用する。
// 各マイグレーションは個別のトランザクションで実行される。
func (db *DB) Migrate(ctx context.Context) (int, error) {
	if _, err := db.conn.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		var exists bool
		if err := db.conn.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM _migrations WHERE version = $1)`, m.version); err != nil {
			return applied, fmt.Errorf("failed to check migration %s: %w", m.version, err)
		}
		if exists {
			continue
		}

		tx, err := db.conn.BeginTxx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("failed to begin migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("failed to apply migration %s_%s: %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %s: %w", m.version, err)
		}
		applied++
	}
	return applied, nil
}
