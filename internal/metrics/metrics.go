package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application server.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal            *prometheus.CounterVec
	RequestDuration          *prometheus.HistogramVec
	RateLimitRejectionsTotal prometheus.Counter
	AdminLoginsTotal         *prometheus.CounterVec
}

// New creates a Collector backed by its own registry, so that several
// collectors can coexist in one process (tests, embedded servers).
func New() *Collector {
	m := &Collector{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appserver_http_requests_total",
				Help: "Total number of HTTP requests by route, method and status code.",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appserver_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RateLimitRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "appserver_ratelimit_rejections_total",
				Help: "Total number of requests rejected by rate limiting.",
			},
		),
		AdminLoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appserver_admin_logins_total",
				Help: "Admin login attempts by result.",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.RateLimitRejectionsTotal,
		m.AdminLoginsTotal,
	)

	return m
}

// ObserveRequest records one completed HTTP request. Methods outside the
// standard set are counted as "OTHER" to keep the label bounded.
func (m *Collector) ObserveRequest(route, method string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(route, methodLabel(method), strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// IncRateLimitRejectionsTotal increments the rate limit rejection counter.
func (m *Collector) IncRateLimitRejectionsTotal() {
	m.RateLimitRejectionsTotal.Inc()
}

// IncAdminLogins counts an admin login attempt; result is "success" or "failure".
func (m *Collector) IncAdminLogins(result string) {
	m.AdminLoginsTotal.WithLabelValues(result).Inc()
}

// Handler returns an http.Handler that serves the collector's registry.
func (m *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace:
		return method
	}
	return "OTHER"
}
