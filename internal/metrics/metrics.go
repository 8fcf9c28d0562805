// Package metrics exposes AI orchestration counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives orchestration and HTTP observations.
type Recorder interface {
	ObserveAttempt(feature, provider, outcome, errorKind string, latency time.Duration)
	ObserveRun(feature, outcome string)
	ObserveRateLimited(bucket string)
	ObserveHTTP(route, method string, status int, duration time.Duration)
}

// Prometheus implements Recorder on its own registry.
type Prometheus struct {
	registry       *prometheus.Registry
	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewPrometheus registers all collectors, plus Go runtime and process
// collectors, on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_ai_provider_attempts_total",
			Help: "Provider attempts made by the fallback orchestrator",
		}, []string{"feature", "provider", "outcome", "error_kind"}),
		attemptLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crm_ai_provider_attempt_duration_seconds",
			Help:    "Latency of a single provider attempt",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"provider", "outcome"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_ai_runs_total",
			Help: "Orchestrated AI feature calls by final outcome",
		}, []string{"feature", "outcome"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_ai_rate_limited_total",
			Help: "Requests rejected by a rate limit bucket",
		}, []string{"bucket"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "method", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crm_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// ObserveAttempt records one provider attempt.
func (p *Prometheus) ObserveAttempt(feature, provider, outcome, errorKind string, latency time.Duration) {
	p.attempts.WithLabelValues(feature, provider, outcome, errorKind).Inc()
	p.attemptLatency.WithLabelValues(provider, outcome).Observe(latency.Seconds())
}

// ObserveRun records the outcome of a whole fallback sweep.
func (p *Prometheus) ObserveRun(feature, outcome string) {
	p.runs.WithLabelValues(feature, outcome).Inc()
}

// ObserveRateLimited records a rejected request.
func (p *Prometheus) ObserveRateLimited(bucket string) {
	p.rateLimited.WithLabelValues(bucket).Inc()
}

// ObserveHTTP records one served request.
func (p *Prometheus) ObserveHTTP(route, method string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Noop discards every observation.
type Noop struct{}

func (Noop) ObserveAttempt(string, string, string, string, time.Duration) {}
func (Noop) ObserveRun(string, string)                                    {}
func (Noop) ObserveRateLimited(string)                                    {}
func (Noop) ObserveHTTP(string, string, int, time.Duration)               {}
