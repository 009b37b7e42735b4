package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-settlement/api/controllers"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

func newTestRouter(t *testing.T, checks ...controllers.ReadinessCheck) (http.Handler, *prometheus.Registry) {
	t.Helper()
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	reg := prometheus.NewRegistry()
	return NewRouter(cfg, logg, reg, checks...), reg
}

func TestHealthLive(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-PackFinderz-Env") != "test" {
		t.Fatalf("missing env header")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestHealthReadyReportsFailedDependencies(t *testing.T) {
	router, _ := newTestRouter(t,
		controllers.ReadinessCheck{Name: "db", Pinger: stubPinger{}},
		controllers.ReadinessCheck{Name: "redis", Pinger: stubPinger{err: errors.New("connection refused")}},
		controllers.ReadinessCheck{Name: "pubsub"},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body types.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	details, ok := body.Error.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", body.Error.Details)
	}
	if _, ok := details["redis"]; !ok {
		t.Fatalf("expected redis in failed checks, got %v", details)
	}
	if _, ok := details["db"]; ok {
		t.Fatalf("healthy db reported as failed")
	}
}

func TestHealthReadyOK(t *testing.T) {
	router, _ := newTestRouter(t, controllers.ReadinessCheck{Name: "db", Pinger: stubPinger{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	router, reg := newTestRouter(t)
	m := metrics.NewSettlementMetrics(reg)
	m.IncOrdersPlaced()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "orders_placed_total") {
		t.Fatalf("expected settlement metrics in scrape output")
	}
}
