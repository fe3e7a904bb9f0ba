// Package ratelimit implements the Policy Gate's dual per-minute and
// per-hour rate limiting, backed by Redis fixed-window counters with an
// in-memory fixed-window fallback when Redis is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Decision is the outcome of a rate-limit check for one window.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces a per-minute and a per-hour ceiling per key
// (credential hash). Counters are approximate under Redis failover —
// the spec tolerates exceeding the ceiling by at most one window.
type Limiter struct {
	rdb    *redis.Client
	logger zerolog.Logger

	mu       sync.Mutex
	fallback map[string]*fallbackWindow
}

type fallbackWindow struct {
	count      int
	windowEnds time.Time
}

// New creates a Limiter. rdb may be nil, in which case the limiter
// always runs in degraded (in-memory) mode.
func New(rdb *redis.Client, logger zerolog.Logger) *Limiter {
	return &Limiter{
		rdb:      rdb,
		logger:   logger.With().Str("component", "ratelimit").Logger(),
		fallback: make(map[string]*fallbackWindow),
	}
}

// CheckMinute enforces the per-minute ceiling for key.
func (l *Limiter) CheckMinute(ctx context.Context, key string, limit int) Decision {
	return l.check(ctx, "min", key, limit, time.Minute)
}

// CheckHour enforces the per-hour ceiling for key.
func (l *Limiter) CheckHour(ctx context.Context, key string, limit int) Decision {
	return l.check(ctx, "hour", key, limit, time.Hour)
}

func (l *Limiter) check(ctx context.Context, window, key string, limit int, period time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}
	}

	bucket := time.Now().Truncate(period)
	redisKey := fmt.Sprintf("rl:%s:%s:%d", window, key, bucket.Unix())

	if l.rdb != nil {
		count, err := l.incrWithExpiry(ctx, redisKey, period)
		if err == nil {
			resetAt := bucket.Add(period)
			return Decision{
				Allowed:   count <= int64(limit),
				Limit:     limit,
				Remaining: max0(limit - int(count)),
				ResetAt:   resetAt,
			}
		}
		l.logger.Warn().Err(err).Msg("redis rate limiter unavailable, falling back to in-memory window")
	}

	return l.checkFallback(redisKey, limit, period, bucket)
}

func (l *Limiter) incrWithExpiry(ctx context.Context, key string, period time.Duration) (int64, error) {
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, period+time.Second)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (l *Limiter) checkFallback(key string, limit int, period time.Duration, bucket time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.fallback[key]
	if !ok || time.Now().After(w.windowEnds) {
		w = &fallbackWindow{windowEnds: bucket.Add(period)}
		l.fallback[key] = w
	}
	w.count++

	return Decision{
		Allowed:   w.count <= limit,
		Limit:     limit,
		Remaining: max0(limit - w.count),
		ResetAt:   w.windowEnds,
	}
}

// Cleanup periodically purges expired fallback windows so the
// in-memory map doesn't grow unbounded during sustained Redis outages.
func (l *Limiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for k, w := range l.fallback {
				if now.After(w.windowEnds) {
					delete(l.fallback, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
