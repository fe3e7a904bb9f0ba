package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lumenstack/logflow/logmodel"
	"github.com/lumenstack/logflow/query"
	"github.com/lumenstack/logflow/reqctx"
)

func newTestMetricsHandler(t *testing.T) *MetricsHandler {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewMetricsHandler(query.NewMetricsStore(rdb, nil))
}

func withProject(req *http.Request, projectID string) *http.Request {
	rec := logmodel.CredentialRecord{ProjectID: projectID, Active: true}
	return req.WithContext(reqctx.WithCredential(req.Context(), rec))
}

func TestErrorRateReturnsEmptySeriesWhenUncached(t *testing.T) {
	h := newTestMetricsHandler(t)

	req := withProject(httptest.NewRequest(http.MethodGet, "/api/v1/metrics/error-rate", nil), "proj-1")
	rw := httptest.NewRecorder()
	h.ErrorRate(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestTopErrorsDefaultsLimitWhenUnset(t *testing.T) {
	h := newTestMetricsHandler(t)

	req := withProject(httptest.NewRequest(http.MethodGet, "/api/v1/metrics/top-errors", nil), "proj-1")
	rw := httptest.NewRecorder()
	h.TopErrors(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestAggregatedMetricsRequiresMetricType(t *testing.T) {
	h := newTestMetricsHandler(t)

	req := withProject(httptest.NewRequest(http.MethodGet,
		"/api/v1/metrics/aggregated?period_from=2026-01-01T00:00:00Z", nil), "proj-1")
	rw := httptest.NewRecorder()
	h.AggregatedMetrics(rw, req)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when metric_type is missing, got %d", rw.Code)
	}
}

func TestAggregatedMetricsRequiresValidPeriodFrom(t *testing.T) {
	h := newTestMetricsHandler(t)

	req := withProject(httptest.NewRequest(http.MethodGet,
		"/api/v1/metrics/aggregated?metric_type=error_rate&period_from=not-a-time", nil), "proj-1")
	rw := httptest.NewRecorder()
	h.AggregatedMetrics(rw, req)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed period_from, got %d", rw.Code)
	}
}
