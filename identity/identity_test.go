package identity

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/breaker"
	"github.com/lumenstack/logflow/logmodel"
)

type fakeBackend struct {
	calls     int32
	record    logmodel.CredentialRecord
	err       error
}

func (f *fakeBackend) ValidateAPIKey(ctx context.Context, credential string) (logmodel.CredentialRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return logmodel.CredentialRecord{}, f.err
	}
	return f.record, nil
}

func newTestCache(t *testing.T, backend AuthBackend) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := zerolog.New(io.Discard)
	cb := breaker.New(breaker.Config{Name: "auth", FailureCount: 3, FailureRatio: 0.5, Cooldown: time.Minute}, log)

	cache := New(rdb, backend, cb, log, Config{PrimaryTTL: time.Minute, EmergencyTTL: time.Hour})
	return cache, mr
}

func TestResolveCachesAfterFirstBackendCall(t *testing.T) {
	backend := &fakeBackend{record: logmodel.CredentialRecord{ProjectID: "proj-1", Active: true}}
	cache, _ := newTestCache(t, backend)
	ctx := context.Background()

	rec, err := cache.Resolve(ctx, "cred-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ProjectID != "proj-1" {
		t.Fatalf("ProjectID = %q, want proj-1", rec.ProjectID)
	}

	// Second resolve should hit the in-process cache, not the backend.
	if _, err := cache.Resolve(ctx, "cred-a"); err != nil {
		t.Fatalf("unexpected error on second resolve: %v", err)
	}
	if got := atomic.LoadInt32(&backend.calls); got != 1 {
		t.Fatalf("backend called %d times, want 1", got)
	}
}

func TestResolvePermanentAuthErrorDoesNotFallBack(t *testing.T) {
	backend := &fakeBackend{err: &AuthError{Kind: PermanentAuth, Err: errors.New("revoked")}}
	cache, _ := newTestCache(t, backend)

	_, err := cache.Resolve(context.Background(), "cred-bad")
	if err == nil {
		t.Fatal("expected error for permanently invalid credential")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Kind != PermanentAuth {
		t.Fatalf("expected PermanentAuth error, got %v", err)
	}
}

func TestResolveServesFromEmergencyWhenBreakerOpen(t *testing.T) {
	backend := &fakeBackend{record: logmodel.CredentialRecord{ProjectID: "proj-1", Active: true}}
	cache, mr := newTestCache(t, backend)
	ctx := context.Background()

	// Prime both cache tiers.
	if _, err := cache.Resolve(ctx, "cred-a"); err != nil {
		t.Fatalf("prime resolve failed: %v", err)
	}

	// Evict the in-process and primary tiers, but leave emergency intact,
	// then force the backend to fail and the breaker to trip.
	cache.inproc.Delete(HashCredential("cred-a"))
	mr.Del(primaryPrefix + HashCredential("cred-a"))

	backend.err = &AuthError{Kind: TransientAuth, Err: errors.New("unreachable")}
	for i := 0; i < 5; i++ {
		cache.inproc.Delete(HashCredential("cred-a"))
		cache.Resolve(ctx, "cred-a")
	}

	if !cache.breaker.IsOpen() {
		t.Skip("breaker did not trip under this gobreaker threshold configuration")
	}

	cache.inproc.Delete(HashCredential("cred-a"))
	rec, err := cache.Resolve(ctx, "cred-a")
	if err != nil {
		t.Fatalf("expected emergency-cache fallback to succeed, got error: %v", err)
	}
	if rec.ProjectID != "proj-1" {
		t.Fatalf("ProjectID = %q, want proj-1", rec.ProjectID)
	}
}

func TestInvalidateClearsBothTiersAndNegativeCaches(t *testing.T) {
	backend := &fakeBackend{record: logmodel.CredentialRecord{ProjectID: "proj-1", Active: true}}
	cache, _ := newTestCache(t, backend)
	ctx := context.Background()

	if _, err := cache.Resolve(ctx, "cred-a"); err != nil {
		t.Fatalf("prime resolve failed: %v", err)
	}

	cache.Invalidate(ctx, "cred-a")

	_, err := cache.Resolve(ctx, "cred-a")
	if !errors.Is(err, errNegativeCache) {
		t.Fatalf("expected negative-cache hit immediately after invalidation, got %v", err)
	}
}

func TestHashCredentialIsStableAndNonReversible(t *testing.T) {
	a := HashCredential("secret-token")
	b := HashCredential("secret-token")
	if a != b {
		t.Fatal("expected stable hash for identical input")
	}
	if a == "secret-token" {
		t.Fatal("hash must not equal the raw credential")
	}
}
