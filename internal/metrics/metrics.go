// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "picly",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "picly",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "picly",
		Name:      "generations_total",
		Help:      "Generation attempts by engine and outcome.",
	}, []string{"engine", "outcome"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "picly",
		Name:      "provider_request_seconds",
		Help:      "Upstream provider call latency.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
	}, []string{"engine"})

	Credits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "picly",
		Name:      "credit_reservations_total",
		Help:      "Credit reservations by transition and source.",
	}, []string{"transition", "source"})

	CostAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "picly",
		Name:      "cost_alerts_total",
		Help:      "Persisted cost alerts by level.",
	}, []string{"level"})

	EmergencyMode = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "picly",
		Name:      "emergency_mode",
		Help:      "1 while emergency mode is active.",
	})

	SocialPosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "picly",
		Name:      "social_posts_total",
		Help:      "Social publish attempts by platform and outcome.",
	}, []string{"platform", "outcome"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "picly",
		Name:      "job_runs_total",
		Help:      "Background job runs by job and outcome.",
	}, []string{"job", "outcome"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "picly",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	}, []string{"route"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
