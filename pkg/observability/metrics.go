package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access resolution metrics
	AccessChecksTotal    *prometheus.CounterVec
	AccessCheckDuration  *prometheus.HistogramVec
	ResolutionWalkDepth  prometheus.Histogram
	ClosureCacheHits     prometheus.Counter
	ClosureCacheMisses   prometheus.Counter

	// Mutation metrics
	PermissionUpdatesTotal *prometheus.CounterVec
	CascadeChildrenTotal   prometheus.Counter

	// Notification metrics
	NotifyPublishesTotal *prometheus.CounterVec
	NotifyRetriesTotal   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perch_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perch_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perch_access_checks_total",
				Help: "Total number of access resolution checks",
			},
			[]string{"kind", "result"},
		),
		AccessCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perch_access_check_duration_seconds",
				Help:    "Access resolution check duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		ResolutionWalkDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "perch_resolution_walk_depth",
				Help:    "Number of ancestors visited while resolving an inheritance chain",
				Buckets: prometheus.LinearBuckets(0, 2, 10),
			},
		),
		ClosureCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "perch_closure_cache_hits_total",
				Help: "Group closure cache hits",
			},
		),
		ClosureCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "perch_closure_cache_misses_total",
				Help: "Group closure cache misses",
			},
		),
		PermissionUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perch_permission_updates_total",
				Help: "Total number of permission record updates",
			},
			[]string{"result"},
		),
		CascadeChildrenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "perch_cascade_children_total",
				Help: "Total number of child posts rewritten by inheritance cascades",
			},
		),
		NotifyPublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perch_notify_publishes_total",
				Help: "Total number of change notification publishes",
			},
			[]string{"status"},
		),
		NotifyRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "perch_notify_retries_total",
				Help: "Total number of notification delivery retries",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessChecksTotal,
		m.AccessCheckDuration,
		m.ResolutionWalkDepth,
		m.ClosureCacheHits,
		m.ClosureCacheMisses,
		m.PermissionUpdatesTotal,
		m.CascadeChildrenTotal,
		m.NotifyPublishesTotal,
		m.NotifyRetriesTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and durations per route
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			metrics.HTTPRequestsTotal.WithLabelValues(
				r.Method, r.URL.Path, strconv.Itoa(rw.statusCode),
			).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(
				r.Method, r.URL.Path,
			).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint exposes the registry on /metrics
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
