package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/config"
)

// DB は sqlx.DB をラップしたデータベース接続を表す。
type DB struct {
	conn *sqlx.DB
}

// NewDB は PostgreSQL への接続プールを生成する。接続の確立は遅延される。
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	conn, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	conn.SetConnMaxLifetime(config.ParseDuration(cfg.ConnMaxLifetime, 5*time.Minute))
	return &DB{conn: conn}, nil
}

// PingContext はデータベースへの接続を確認する。
func (db *DB) PingContext(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (db *DB) Close() error {
	return db.conn.Close()
}
