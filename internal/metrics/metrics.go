// Package metrics exposes the gateway's operational counters and gauges as
// Prometheus collectors, served at GET /metrics. Purely observational — no
// billing or quota accounting lives here.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the gateway's Prometheus collectors. Construct one with
// New and register its handler at GET /metrics.
type Registry struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RateLimitQueueDepth *prometheus.GaugeVec
	RouterFailedCount   prometheus.Gauge
	AuthRefreshTotal    *prometheus.CounterVec
}

// New registers the gateway's collectors against reg and returns the bundle.
// Pass prometheus.NewRegistry() for an isolated registry in tests.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm_gateway",
			Name:      "requests_total",
			Help:      "Completed chat-completion requests, by provider, model, and outcome.",
		}, []string{"provider", "model", "outcome"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llm_gateway",
			Name:      "request_duration_seconds",
			Help:      "Dispatcher request latency, by provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		RateLimitQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llm_gateway",
			Name:      "rate_limit_queue_depth",
			Help:      "Current FIFO wait-queue length, by provider.",
		}, []string{"provider"}),

		RouterFailedCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "llm_gateway",
			Name:      "router_failed_providers",
			Help:      "Number of providers currently in the router's failure map.",
		}),

		AuthRefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm_gateway",
			Name:      "auth_refresh_total",
			Help:      "Token refresh attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
}

// ObserveRequest records one completed dispatch attempt.
func (r *Registry) ObserveRequest(provider, model, outcome string, seconds float64) {
	r.RequestsTotal.WithLabelValues(provider, model, outcome).Inc()
	r.RequestDuration.WithLabelValues(provider).Observe(seconds)
}

// SetQueueDepth reports the current wait-queue length for provider.
func (r *Registry) SetQueueDepth(provider string, depth int) {
	r.RateLimitQueueDepth.WithLabelValues(provider).Set(float64(depth))
}

// SetFailedProviderCount reports the router's current failure-map size.
func (r *Registry) SetFailedProviderCount(n int) {
	r.RouterFailedCount.Set(float64(n))
}

// ObserveAuthRefresh records one token-refresh attempt outcome.
func (r *Registry) ObserveAuthRefresh(provider, outcome string) {
	r.AuthRefreshTotal.WithLabelValues(provider, outcome).Inc()
}
