package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status はヘルスチェックのステータス。
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult はヘルスチェックの結果。
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// HealthResponse はヘルスチェックのレスポンス。
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthCheck はヘルスチェックのインターフェース。
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// Checker はヘルスチェッカー。
type Checker struct {
	checks []HealthCheck
}

// NewChecker は新しい Checker を生成する。
func NewChecker(checks ...HealthCheck) *Checker {
	return &Checker{checks: checks}
}

// Add はヘルスチェックを追加する。
func (c *Checker) Add(check HealthCheck) {
	c.checks = append(c.checks, check)
}

// RunAll は全ヘルスチェックを並行に実行する。1 つでも失敗すれば全体は unhealthy となる。
func (c *Checker) RunAll(ctx context.Context) HealthResponse {
	var mu sync.Mutex
	results := make(map[string]CheckResult, len(c.checks))
	overall := StatusHealthy

	var g errgroup.Group
	for _, check := range c.checks {
		check := check
		g.Go(func() error {
			res := CheckResult{Status: StatusHealthy, Message: "OK"}
			if err := check.Check(ctx); err != nil {
				res = CheckResult{Status: StatusUnhealthy, Message: err.Error()}
			}

			mu.Lock()
			defer mu.Unlock()
			results[check.Name()] = res
			if res.Status == StatusUnhealthy {
				overall = StatusUnhealthy
			}
			return nil
		})
	}
	_ = g.Wait()

	return HealthResponse{
		Status:    overall,
		Checks:    results,
		Timestamp: time.Now(),
	}
}
