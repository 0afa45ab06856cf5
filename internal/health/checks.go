package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

const defaultTimeout = 5 * time.Second

// Pinger は PingContext を持つ接続。*sql.DB と persistence.DB が満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PostgresHealthCheck は PostgreSQL のヘルスを確認する。
type PostgresHealthCheck struct {
	name    string
	db      Pinger
	timeout time.Duration
}

// NewPostgresHealthCheck は新しい PostgresHealthCheck を生成する。
func NewPostgresHealthCheck(db Pinger, timeout time.Duration) *PostgresHealthCheck {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &PostgresHealthCheck{name: "postgres", db: db, timeout: timeout}
}

// Name はヘルスチェック名を返す。
func (h *PostgresHealthCheck) Name() string {
	return h.name
}

// Check は PostgreSQL に対して ping を実行する。
func (h *PostgresHealthCheck) Check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.db.PingContext(checkCtx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// RedisHealthCheck は Redis のヘルスを確認する。
type RedisHealthCheck struct {
	name    string
	client  redis.Cmdable
	timeout time.Duration
}

// NewRedisHealthCheck は新しい RedisHealthCheck を生成する。
func NewRedisHealthCheck(client redis.Cmdable, timeout time.Duration) *RedisHealthCheck {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RedisHealthCheck{name: "redis", client: client, timeout: timeout}
}

// Name はヘルスチェック名を返す。
func (h *RedisHealthCheck) Name() string {
	return h.name
}

// Check は Redis に対して PING を実行する。
func (h *RedisHealthCheck) Check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.client.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// KafkaHealthCheck はいずれかのブローカーに接続できるかを確認する。
type KafkaHealthCheck struct {
	name    string
	brokers []string
	timeout time.Duration
}

// NewKafkaHealthCheck は新しい KafkaHealthCheck を生成する。
func NewKafkaHealthCheck(brokers []string, timeout time.Duration) *KafkaHealthCheck {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &KafkaHealthCheck{name: "kafka", brokers: brokers, timeout: timeout}
}

// Name はヘルスチェック名を返す。
func (h *KafkaHealthCheck) Name() string {
	return h.name
}

// Check はブローカーへ接続し、クラスタのブローカー一覧を取得する。
func (h *KafkaHealthCheck) Check(ctx context.Context) error {
	if len(h.brokers) == 0 {
		return errors.New("kafka health check failed: no brokers configured")
	}
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var lastErr error
	for _, addr := range h.brokers {
		conn, err := kafka.DialContext(checkCtx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		brokers, err := conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if len(brokers) > 0 {
			return nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers reported")
	}
	return fmt.Errorf("kafka health check failed: %w", lastErr)
}
