package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/breaker"
	"github.com/lumenstack/logflow/identity"
	"github.com/lumenstack/logflow/logmodel"
	"github.com/lumenstack/logflow/observability"
	"github.com/lumenstack/logflow/ratelimit"
)

type fakeAuthBackend struct{ record logmodel.CredentialRecord }

func (b fakeAuthBackend) ValidateAPIKey(ctx context.Context, credential string) (logmodel.CredentialRecord, error) {
	return b.record, nil
}

func newTestAuthMiddleware(t *testing.T, perMinute int) *AuthMiddleware {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := zerolog.New(io.Discard)

	cb := breaker.New(breaker.Config{Name: "auth", FailureCount: 5, FailureRatio: 0.5, Cooldown: time.Minute}, log)
	backend := fakeAuthBackend{record: logmodel.CredentialRecord{ProjectID: "proj-1", Active: true}}
	cache := identity.New(rdb, backend, cb, log, identity.Config{PrimaryTTL: time.Minute, EmergencyTTL: time.Hour})
	limiter := ratelimit.New(rdb, log)

	return NewAuthMiddleware(cache, limiter, observability.NewMetrics(), log, Config{
		HeaderName:         "Authorization",
		RateLimitEnabled:   true,
		RateLimitPerMinute: perMinute,
		RateLimitPerHour:   1000,
	})
}

func TestHandlerWritesRateLimitHeadersOnSuccess(t *testing.T) {
	am := newTestAuthMiddleware(t, 5)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/single", nil)
	req.Header.Set("Authorization", "test-credential")
	rw := httptest.NewRecorder()
	am.Handler(next).ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected request to pass through, got %d", rw.Code)
	}
	if got := rw.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %q, want 5", got)
	}
	if got := rw.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", got)
	}
	if rw.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected X-RateLimit-Reset to be set")
	}
}

func TestHandlerWritesRateLimitHeadersOnRejection(t *testing.T) {
	am := newTestAuthMiddleware(t, 1)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/single", nil)
		req.Header.Set("Authorization", "test-credential")
		rw := httptest.NewRecorder()
		am.Handler(next).ServeHTTP(rw, req)
		return rw
	}

	post()
	rejected := post()

	if rejected.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", rejected.Code)
	}
	if got := rejected.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if _, err := strconv.Atoi(rejected.Header().Get("X-RateLimit-Limit")); err != nil {
		t.Errorf("X-RateLimit-Limit not a valid integer: %v", err)
	}
}
