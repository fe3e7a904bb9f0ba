// Package analyticsjob runs the scheduled pre-aggregator for Query &
// Analytics (C5): five ticker-driven jobs, each computing one metric
// series over the active projects and caching it for the query path to
// serve cheaply. The lifecycle shape (ticker + start/stop) is the same
// one the Storage Worker's partition manager uses for its own
// background task.
package analyticsjob

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/ingest"
)

// cacheTTLFactor caches each rolling series for at least 2x its own
// compute cadence, per the metrics contract.
const cacheTTLFactor = 2

// Cadences configures the five job intervals.
type Cadences struct {
	ErrorRate         time.Duration
	LogVolume         time.Duration
	TopErrors         time.Duration
	UsageStats        time.Duration
	AggregatedMetrics time.Duration
}

// Scheduler owns the five background aggregation jobs.
type Scheduler struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	logger   zerolog.Logger
	cadences Cadences

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(pool *pgxpool.Pool, rdb *redis.Client, logger zerolog.Logger, cadences Cadences) *Scheduler {
	return &Scheduler{
		pool:     pool,
		rdb:      rdb,
		logger:   logger.With().Str("component", "analyticsjob").Logger(),
		cadences: cadences,
	}
}

// Start launches all five jobs as independent ticker goroutines.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context, string)
	}{
		{"error_rate", s.cadences.ErrorRate, s.runErrorRate},
		{"log_volume", s.cadences.LogVolume, s.runLogVolume},
		{"top_errors", s.cadences.TopErrors, s.runTopErrors},
		{"usage_stats", s.cadences.UsageStats, s.runUsageStats},
		{"aggregated_metrics", s.cadences.AggregatedMetrics, s.runAggregatedMetrics},
	}

	for _, j := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, j.name, j.interval, j.run)
	}
}

// Stop cancels every job and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context, string)) {
	defer s.wg.Done()
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	s.tick(ctx, name, run)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, name, run)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, name string, run func(context.Context, string)) {
	projects, err := s.activeProjects(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("job", name).Msg("failed to list active projects")
		return
	}
	for _, p := range projects {
		run(ctx, p)
	}
}

func (s *Scheduler) activeProjects(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, ingest.ActiveProjectsSet).Result()
}

func (s *Scheduler) cacheJSON(ctx context.Context, key string, ttl time.Duration, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to marshal metric series")
		return
	}
	if err := s.rdb.Set(ctx, key, raw, ttl*cacheTTLFactor).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to cache metric series")
	}
}
