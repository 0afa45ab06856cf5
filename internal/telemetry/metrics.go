package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics は Prometheus メトリクスのヘルパー構造体である。
// HTTP の RED メトリクスとセッション解決のメトリクスを提供する。
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	SessionResolutions     *prometheus.CounterVec
	ProviderRefreshesTotal *prometheus.CounterVec
}

// NewMetrics はメトリクスを初期化し reg に登録する。
// serviceName はメトリクスの service ラベルに使用される。
func NewMetrics(serviceName string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Histogram of HTTP request latency",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		SessionResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ticketgate_session_resolutions_total",
				Help:        "Session credential resolutions by resulting state",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"state"},
		),
		ProviderRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ticketgate_provider_refresh_total",
				Help:        "Identity provider token refresh attempts by result",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.HTTPRequestsTotal, m.HTTPRequestDuration, m.SessionResolutions, m.ProviderRefreshesTotal)
	return m
}

// ObserveResolution はセッション解決の結果を記録する。nil レシーバは何もしない。
func (m *Metrics) ObserveResolution(state string) {
	if m == nil {
		return
	}
	m.SessionResolutions.WithLabelValues(state).Inc()
}

// ObserveRefresh はトークンリフレッシュの結果を記録する。nil レシーバは何もしない。
func (m *Metrics) ObserveRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ProviderRefreshesTotal.WithLabelValues(result).Inc()
}
