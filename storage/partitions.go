package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// partitionName returns the logs_YYYY_MM name for the month containing t.
func partitionName(t time.Time) string {
	return fmt.Sprintf("logs_%04d_%02d", t.Year(), int(t.Month()))
}

func monthBounds(t time.Time) (time.Time, time.Time) {
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	return from, to
}

// PartitionManager creates logs partitions on demand and runs the hourly
// lifecycle task that ensures the current and next month exist and
// retires expired partitions as described on retireExpired.
type PartitionManager struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger

	mu      sync.Mutex
	created map[string]bool // cache of verified-to-exist partition names

	retentionMonths int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPartitionManager creates a PartitionManager.
func NewPartitionManager(pool *pgxpool.Pool, logger zerolog.Logger, retentionMonths int) *PartitionManager {
	return &PartitionManager{
		pool:            pool,
		logger:          logger.With().Str("component", "partition_manager").Logger(),
		created:         make(map[string]bool),
		retentionMonths: retentionMonths,
		done:            make(chan struct{}),
	}
}

// EnsurePartition creates the monthly partition covering t if it does
// not already exist. Safe for concurrent callers; the creation DDL is
// idempotent (IF NOT EXISTS) and the in-memory cache of verified names
// avoids a round trip on the common case.
func (pm *PartitionManager) EnsurePartition(ctx context.Context, t time.Time) error {
	name := partitionName(t)

	pm.mu.Lock()
	if pm.created[name] {
		pm.mu.Unlock()
		return nil
	}
	pm.mu.Unlock()

	from, to := monthBounds(t)
	ddl := partitionDDL(name, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if _, err := pm.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating partition %s: %w", name, err)
	}

	pm.mu.Lock()
	pm.created[name] = true
	pm.mu.Unlock()
	return nil
}

// Start begins the hourly partition-lifecycle background task.
func (pm *PartitionManager) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel
	go pm.loop(ctx, interval)
}

// Stop gracefully shuts down the lifecycle task.
func (pm *PartitionManager) Stop() {
	if pm.cancel != nil {
		pm.cancel()
	}
	<-pm.done
}

func (pm *PartitionManager) loop(ctx context.Context, interval time.Duration) {
	defer close(pm.done)

	pm.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.tick(ctx)
		}
	}
}

func (pm *PartitionManager) tick(ctx context.Context) {
	now := time.Now().UTC()

	if err := pm.EnsurePartition(ctx, now); err != nil {
		pm.logger.Error().Err(err).Msg("failed to ensure current-month partition")
	}
	if err := pm.EnsurePartition(ctx, now.AddDate(0, 1, 0)); err != nil {
		pm.logger.Error().Err(err).Msg("failed to ensure next-month partition")
	}

	if pm.retentionMonths > 0 {
		pm.retireExpired(ctx, now)
	}
}

// retireExpired detaches and drops the partition for the month exactly
// retentionMonths before the current one, and only when that name is in
// this process's cache of partitions it created or verified. Partitions
// for earlier months, or ones this process never saw, are not dropped.
// Detach-then-drop keeps a brief window where the partition is
// still queryable under its own name for any in-flight analytics job.
func (pm *PartitionManager) retireExpired(ctx context.Context, now time.Time) {
	cutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -pm.retentionMonths, 0)
	name := partitionName(cutoff)

	pm.mu.Lock()
	_, known := pm.created[name]
	pm.mu.Unlock()
	if !known {
		return
	}

	if _, err := pm.pool.Exec(ctx, detachPartitionDDL(name)); err != nil {
		pm.logger.Warn().Err(err).Str("partition", name).Msg("failed to detach expired partition")
		return
	}
	if _, err := pm.pool.Exec(ctx, dropPartitionDDL(name)); err != nil {
		pm.logger.Warn().Err(err).Str("partition", name).Msg("failed to drop detached partition")
		return
	}

	pm.mu.Lock()
	delete(pm.created, name)
	pm.mu.Unlock()

	pm.logger.Info().Str("partition", name).Msg("retired expired partition")
}
