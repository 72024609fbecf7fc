package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	PipelineOutcomesTotal *prometheus.CounterVec
	PipelineStepDuration  *prometheus.HistogramVec

	// Tenant registry metrics
	RegistryConnections    prometheus.Gauge
	RegistryEvictionsTotal *prometheus.CounterVec
	RegistryOpensTotal     *prometheus.CounterVec

	// Access cache metrics
	AccessDecisionsTotal *prometheus.CounterVec
	RouteCacheTotal      *prometheus.CounterVec

	// Session metrics
	SessionOperationsTotal *prometheus.CounterVec
	SessionRefreshesTotal  *prometheus.CounterVec

	RateLimitedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		PipelineOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_pipeline_outcomes_total",
				Help: "Request resolution outcomes by terminal state and reason code",
			},
			[]string{"outcome", "reason"},
		),
		PipelineStepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_pipeline_step_duration_seconds",
				Help:    "Duration of each request resolution step",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"step"},
		),

		RegistryConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantgate_registry_connections",
				Help: "Number of live tenant connections held by the registry",
			},
		),
		RegistryEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_registry_evictions_total",
				Help: "Tenant connections removed from the registry",
			},
			[]string{"reason"},
		),
		RegistryOpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_registry_opens_total",
				Help: "Tenant connection opens through the connection factory",
			},
			[]string{"status"},
		),

		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_access_decisions_total",
				Help: "Tenant access decisions",
			},
			[]string{"decision"},
		),
		RouteCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_route_cache_lookups_total",
				Help: "Route access cache lookups",
			},
			[]string{"result"},
		),

		SessionOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_session_operations_total",
				Help: "Session store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		SessionRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_session_refreshes_total",
				Help: "Session token refresh attempts",
			},
			[]string{"status"},
		),

		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantgate_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PipelineOutcomesTotal,
		m.PipelineStepDuration,
		m.RegistryConnections,
		m.RegistryEvictionsTotal,
		m.RegistryOpensTotal,
		m.AccessDecisionsTotal,
		m.RouteCacheTotal,
		m.SessionOperationsTotal,
		m.SessionRefreshesTotal,
		m.RateLimitedTotal,
	)

	return m
}

// ObserveOutcome counts a terminal pipeline state
func (m *Metrics) ObserveOutcome(outcome, reason string) {
	if m == nil {
		return
	}
	m.PipelineOutcomesTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveStep records how long a pipeline step took
func (m *Metrics) ObserveStep(step string, start time.Time) {
	if m == nil {
		return
	}
	m.PipelineStepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

// SetRegistrySize records the number of live tenant connections
func (m *Metrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.RegistryConnections.Set(float64(n))
}

// ObserveEviction counts a registry removal
func (m *Metrics) ObserveEviction(reason string) {
	if m == nil {
		return
	}
	m.RegistryEvictionsTotal.WithLabelValues(reason).Inc()
}

// ObserveOpen counts a connection factory call
func (m *Metrics) ObserveOpen(err error) {
	if m == nil {
		return
	}
	m.RegistryOpensTotal.WithLabelValues(statusLabel(err)).Inc()
}

// ObserveAccess counts a tenant access decision
func (m *Metrics) ObserveAccess(decision string) {
	if m == nil {
		return
	}
	m.AccessDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveRouteCache counts a route cache hit or miss
func (m *Metrics) ObserveRouteCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.RouteCacheTotal.WithLabelValues(result).Inc()
}

// ObserveSession counts a session store operation
func (m *Metrics) ObserveSession(operation, backend string, err error) {
	if m == nil {
		return
	}
	m.SessionOperationsTotal.WithLabelValues(operation, backend, statusLabel(err)).Inc()
}

// ObserveRefresh counts a session refresh attempt
func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	m.SessionRefreshesTotal.WithLabelValues(statusLabel(err)).Inc()
}

// ObserveRateLimited counts a rejected request
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
