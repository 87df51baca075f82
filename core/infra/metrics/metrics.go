package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters for the admission and dispatch pipeline.
type Metrics interface {
	IncJobsSubmitted(plan string)
	IncJobsCompleted(status string)
	IncRateLimited(scope string)
	IncQuotaDenied(plan string)
	IncWatchSubscribed()
	DecWatchSubscribed()
}

// GatewayMetrics captures request metrics for the API gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncJobsSubmitted(string) {}
func (Noop) IncJobsCompleted(string) {}
func (Noop) IncRateLimited(string)   {}
func (Noop) IncQuotaDenied(string)   {}
func (Noop) IncWatchSubscribed()     {}
func (Noop) DecWatchSubscribed()     {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	jobsSubmitted    *prometheus.CounterVec
	jobsCompleted    *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	quotaDenied      *prometheus.CounterVec
	watchSubscribers prometheus.Gauge
	once             sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs admitted by plan",
		}, []string{"plan"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs reaching a terminal state by status",
		}, []string{"status"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the token bucket per scope",
		}, []string{"scope"}),
		quotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denied_total",
			Help:      "Submissions rejected by monthly quota per plan",
		}, []string{"plan"}),
		watchSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_subscribers",
			Help:      "Live job watch subscribers",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.jobsSubmitted, p.jobsCompleted, p.rateLimited, p.quotaDenied, p.watchSubscribers)
	})
}

func (p *Prom) IncJobsSubmitted(plan string) {
	p.jobsSubmitted.WithLabelValues(plan).Inc()
}

func (p *Prom) IncJobsCompleted(status string) {
	p.jobsCompleted.WithLabelValues(status).Inc()
}

func (p *Prom) IncRateLimited(scope string) {
	p.rateLimited.WithLabelValues(scope).Inc()
}

func (p *Prom) IncQuotaDenied(plan string) {
	p.quotaDenied.WithLabelValues(plan).Inc()
}

func (p *Prom) IncWatchSubscribed() {
	p.watchSubscribers.Inc()
}

func (p *Prom) DecWatchSubscribed() {
	p.watchSubscribers.Dec()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
