package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}

	t.Run("double registration panics", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected MustRegister to panic on duplicate registration")
			}
		}()
		NewMetrics(registry)
	})
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	m.ObserveOutcome("ALLOWED", "")
	m.ObserveStep("validate", time.Now())
	m.SetRegistrySize(3)
	m.ObserveEviction("capacity")
	m.ObserveOpen(nil)
	m.ObserveAccess("allowed")
	m.ObserveRouteCache(true)
	m.ObserveSession("get", "memory", nil)
	m.ObserveRefresh(errors.New("x"))
	m.ObserveRateLimited()
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveOutcome("REJECTED", "FORBIDDEN")
	m.ObserveOutcome("REJECTED", "FORBIDDEN")
	m.ObserveEviction("capacity")
	m.ObserveOpen(errors.New("dial"))
	m.ObserveRouteCache(false)
	m.ObserveSession("create", "redis", nil)
	m.SetRegistrySize(4)

	if got := testutil.ToFloat64(m.PipelineOutcomesTotal.WithLabelValues("REJECTED", "FORBIDDEN")); got != 2 {
		t.Errorf("outcomes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RegistryEvictionsTotal.WithLabelValues("capacity")); got != 1 {
		t.Errorf("evictions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RegistryOpensTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("failed opens = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RouteCacheTotal.WithLabelValues("miss")); got != 1 {
		t.Errorf("route misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionOperationsTotal.WithLabelValues("create", "redis", "success")); got != 1 {
		t.Errorf("session creates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RegistryConnections); got != 4 {
		t.Errorf("registry size = %v, want 4", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/data/{model}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, model := range []string{"orders", "customers"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data/"+model, nil))
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/data/{model}", "418"))
	if got != 2 {
		t.Errorf("requests labelled by template = %v, want 2", got)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.ObserveRateLimited()

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	rec := httptest.NewRecorder()
	serveMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tenantgate_rate_limited_total 1") {
		t.Error("expected rate limited counter in exposition")
	}
}
