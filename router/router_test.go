package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/config"
	"github.com/lumenstack/logflow/observability"
)

func testSetup() http.Handler {
	cfg := &config.Config{
		Addr:             ":0",
		Env:              "test",
		APIKeyHeader:     "Authorization",
		MaxBodyBytes:     1 << 20,
		DefaultPageSize:  100,
		MaxPageSize:      1000,
		RateLimitEnabled: false,
	}
	log := zerolog.New(io.Discard).With().Timestamp().Logger()
	return New(Dependencies{
		Config:  cfg,
		Logger:  log,
		Metrics: observability.NewMetrics(),
	})
}

func TestHealthEndpoints(t *testing.T) {
	r := testSetup()

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"healthz", "/healthz", http.StatusOK},
		{"ready", "/ready", http.StatusOK},
		{"dependencies_health", "/dependencies/health", http.StatusOK},
		{"metrics", "/metrics", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rw := httptest.NewRecorder()
			r.ServeHTTP(rw, req)
			if rw.Result().StatusCode != tc.status {
				t.Fatalf("expected %d for %s, got %d", tc.status, tc.path, rw.Result().StatusCode)
			}
		})
	}
}

func TestUnauthenticatedIngestReturns401(t *testing.T) {
	r := testSetup()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/single", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthenticated ingest, got %d", rw.Result().StatusCode)
	}
}

func TestUnauthenticatedQueryReturns401(t *testing.T) {
	r := testSetup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthenticated query, got %d", rw.Result().StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := testSetup()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ingest/single", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS Allow-Origin header on preflight response")
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := testSetup()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	headers := []string{
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Strict-Transport-Security",
	}
	for _, h := range headers {
		if rw.Header().Get(h) == "" {
			t.Fatalf("expected security header %s to be set", h)
		}
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	cfg := &config.Config{
		Addr:         ":0",
		APIKeyHeader: "Authorization",
		MaxBodyBytes: 10,
	}
	log := zerolog.New(io.Discard)
	r := New(Dependencies{Config: cfg, Logger: log, Metrics: observability.NewMetrics()})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/single", nil)
	req.ContentLength = 1000
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", rw.Result().StatusCode)
	}
}
