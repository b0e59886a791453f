package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for LookupsTotal.
const (
	OutcomeRoute   = "route"
	OutcomeNoRoute = "no_route"
	OutcomeFailed  = "failed"
)

// Metrics groups the collectors exported by the distance pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	LookupsTotal   *prometheus.CounterVec
	APIErrors      prometheus.Counter
	RequestSeconds *prometheus.HistogramVec
	RetryAttempts  prometheus.Counter
	CacheRequests  *prometheus.CounterVec
	CacheEvictions prometheus.Counter
	RateLimitWait  prometheus.Histogram
	ActiveWorkers  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		LookupsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "distance_lookups_total",
			Help: "Total number of resolved origin lookups by outcome.",
		}, []string{"outcome"}),
		APIErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "distance_provider_api_errors_total",
			Help: "Total number of errors received from the routing provider.",
		}),
		RequestSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "distance_provider_request_duration_seconds",
			Help:    "Duration of requests to the routing provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		RetryAttempts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "distance_retry_attempts_total",
			Help: "Total number of provider attempts made after a failure.",
		}),
		CacheRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "distance_cache_requests_total",
			Help: "Result cache lookups by result (hit, miss).",
		}, []string{"result"}),
		CacheEvictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "distance_cache_evictions_total",
			Help: "Total number of entries evicted from the result cache.",
		}),
		RateLimitWait: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "distance_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate limiter permit.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ActiveWorkers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "distance_active_workers",
			Help: "Current number of workers processing origins.",
		}),
	}
}

func (m *Metrics) ObserveLookup(outcome string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(provider string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.RequestSeconds.WithLabelValues(provider).Observe(seconds)
	if err != nil {
		m.APIErrors.Inc()
	}
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.RetryAttempts.Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheRequests.WithLabelValues("hit").Inc()
		return
	}
	m.CacheRequests.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

func (m *Metrics) ObserveRateLimitWait(seconds float64) {
	if m == nil {
		return
	}
	m.RateLimitWait.Observe(seconds)
}

func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

func (m *Metrics) WorkerDone() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}
