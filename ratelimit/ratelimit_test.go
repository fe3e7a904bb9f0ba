package ratelimit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := zerolog.New(io.Discard)
	return New(rdb, log), mr
}

func TestCheckMinuteAllowsUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.CheckMinute(ctx, "cred-1", 5)
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed under limit, got denied", i)
		}
	}
}

func TestCheckMinuteDeniesOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.CheckMinute(ctx, "cred-1", 3)
	}
	d := l.CheckMinute(ctx, "cred-1", 3)
	if d.Allowed {
		t.Fatal("expected 4th request to be denied at limit 3")
	}
	if d.Remaining != 0 {
		t.Fatalf("Remaining = %d, want 0", d.Remaining)
	}
}

func TestCheckMinuteZeroLimitAlwaysAllows(t *testing.T) {
	l, _ := newTestLimiter(t)
	d := l.CheckMinute(context.Background(), "cred-1", 0)
	if !d.Allowed {
		t.Fatal("expected zero limit to mean unlimited")
	}
}

func TestDifferentKeysHaveIndependentWindows(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.CheckMinute(ctx, "cred-a", 3)
	}
	// cred-a is now at its ceiling; cred-b should be unaffected.
	d := l.CheckMinute(ctx, "cred-b", 3)
	if !d.Allowed {
		t.Fatal("expected independent key to still be allowed")
	}
}

func TestFallbackModeWhenRedisUnavailable(t *testing.T) {
	// A Limiter with no Redis client must run in degraded/in-memory mode.
	log := zerolog.New(io.Discard)
	l := New(nil, log)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d := l.CheckMinute(ctx, "cred-1", 2)
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed under fallback limit", i)
		}
	}
	d := l.CheckMinute(ctx, "cred-1", 2)
	if d.Allowed {
		t.Fatal("expected fallback window to deny once over limit")
	}
}

func TestCleanupPurgesExpiredFallbackWindows(t *testing.T) {
	log := zerolog.New(io.Discard)
	l := New(nil, log)
	l.CheckMinute(context.Background(), "cred-1", 10)

	l.mu.Lock()
	if len(l.fallback) == 0 {
		l.mu.Unlock()
		t.Fatal("expected a fallback window to exist after a check")
	}
	// Force the window to look expired.
	for _, w := range l.fallback {
		w.windowEnds = time.Now().Add(-time.Minute)
	}
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Cleanup(ctx, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.fallback) != 0 {
		t.Fatalf("expected expired fallback windows to be purged, got %d remaining", len(l.fallback))
	}
}
