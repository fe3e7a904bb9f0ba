// Package storage implements the Storage Worker (C4): draining each
// project's queue, lazily creating monthly partitions, bulk-inserting
// via a streaming COPY, and upserting error groups.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/ingest"
	"github.com/lumenstack/logflow/logmodel"
	"github.com/lumenstack/logflow/middleware"
	"github.com/lumenstack/logflow/observability"
)

const (
	maxFlushRetries = 3
	retryBaseDelay  = 500 * time.Millisecond
	idleExitStreak  = 3
	popTimeout      = 50 * time.Millisecond
)

// DeadLetterSink receives events that could not be persisted after all
// retries, and individual rows a batch COPY rejected.
type DeadLetterSink interface {
	Write(ctx context.Context, ev logmodel.LogEvent, cause error)
}

// LogDeadLetterSink logs dead-lettered events as structured JSON; this
// is the same fallback shape the teacher used for its own sink when no
// durable store was reachable.
type LogDeadLetterSink struct {
	logger zerolog.Logger
}

func NewLogDeadLetterSink(logger zerolog.Logger) *LogDeadLetterSink {
	return &LogDeadLetterSink{logger: logger.With().Str("component", "dead_letter").Logger()}
}

func (s *LogDeadLetterSink) Write(_ context.Context, ev logmodel.LogEvent, cause error) {
	s.logger.Error().
		Err(cause).
		Str("event_id", ev.ID).
		Str("project_id", ev.ProjectID).
		Msg("event dead-lettered after exhausting retries")
}

// Worker drains every project's ingestion queue and persists events.
type Worker struct {
	pool       *pgxpool.Pool
	rdb        *redis.Client
	partitions *PartitionManager
	errGroups  *ErrorGroupStore
	deadLetter DeadLetterSink
	metrics    *observability.Metrics
	logger     zerolog.Logger
	dbBudget   *middleware.Semaphore

	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	running map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a Worker.
type Config struct {
	BatchSize      int
	FlushInterval  time.Duration
	DBConnsBudget  int
}

// New creates a Worker.
func New(pool *pgxpool.Pool, rdb *redis.Client, partitions *PartitionManager, errGroups *ErrorGroupStore,
	deadLetter DeadLetterSink, metrics *observability.Metrics, logger zerolog.Logger, cfg Config) *Worker {

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 200 * time.Millisecond
	}
	if cfg.DBConnsBudget <= 0 {
		cfg.DBConnsBudget = 20
	}

	return &Worker{
		pool:          pool,
		rdb:           rdb,
		partitions:    partitions,
		errGroups:     errGroups,
		deadLetter:    deadLetter,
		metrics:       metrics,
		logger:        logger.With().Str("component", "storage_worker").Logger(),
		dbBudget:      middleware.NewSemaphore(cfg.DBConnsBudget),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		running:       make(map[string]struct{}),
	}
}

// Start begins the supervisor loop that discovers active project queues
// and spins up a drain goroutine for each.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.supervise(ctx)
}

// Stop cancels all drain loops and waits for them to finish, draining
// whatever is already in their in-memory batch.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) supervise(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reconcileProjects(ctx)
		}
	}
}

func (w *Worker) reconcileProjects(ctx context.Context) {
	projects, err := w.rdb.SMembers(ctx, ingest.ActiveProjectsSet).Result()
	if err != nil {
		return
	}
	for _, p := range projects {
		w.mu.Lock()
		_, already := w.running[p]
		if !already {
			w.running[p] = struct{}{}
		}
		w.mu.Unlock()
		if already {
			continue
		}
		w.wg.Add(1)
		go w.drainLoop(ctx, p)
	}
}

func (w *Worker) drainLoop(ctx context.Context, projectID string) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.running, projectID)
		w.mu.Unlock()
	}()

	queueKey := ingest.QueueKey(projectID)
	batch := make([]logmodel.LogEvent, 0, w.batchSize)
	timer := time.NewTimer(w.flushInterval)
	defer timer.Stop()
	idleStreak := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Detached from cancellation so a flush during shutdown still
		// reaches the database.
		w.flush(context.WithoutCancel(ctx), projectID, batch)
		batch = make([]logmodel.LogEvent, 0, w.batchSize)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.flushInterval)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-timer.C:
			flush()
			timer.Reset(w.flushInterval)
		default:
		}

		result, err := w.rdb.BLPop(ctx, popTimeout, queueKey).Result()
		if err == redis.Nil {
			idleStreak++
			if idleStreak >= idleExitStreak && len(batch) == 0 {
				flush()
				w.rdb.SRem(context.Background(), ingest.ActiveProjectsSet, projectID)
				return
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				flush()
				return
			}
			continue
		}

		idleStreak = 0
		var ev logmodel.LogEvent
		if decodeErr := decodeEvent(result[1], &ev); decodeErr != nil {
			w.logger.Error().Err(decodeErr).Msg("failed to decode queued event, dropping")
			continue
		}
		batch = append(batch, ev)
		w.metrics.QueueDepth.WithLabelValues(projectID).Dec()

		if len(batch) >= w.batchSize {
			flush()
		}
	}
}

func (w *Worker) flush(ctx context.Context, projectID string, batch []logmodel.LogEvent) {
	// One shared key, so the budget caps concurrent flushes across all
	// projects.
	const budgetKey = "db"
	if !w.dbBudget.Acquire(budgetKey, 2*time.Second) {
		w.logger.Warn().Str("project_id", projectID).Msg("db connection budget exhausted, retrying flush later")
		w.retryLater(ctx, projectID, batch)
		return
	}
	defer w.dbBudget.Release(budgetKey)

	start := time.Now()
	w.metrics.FlushBatchSize.Observe(float64(len(batch)))

	persisted := w.bulkInsertWithRetry(ctx, batch)

	if err := w.errGroups.UpsertAll(ctx, persisted); err != nil {
		w.logger.Error().Err(err).Msg("error group upsert failed")
	} else {
		upserted := 0
		for _, ev := range persisted {
			if ev.Fingerprint != "" {
				upserted++
			}
		}
		w.metrics.ErrorGroupsUpserted.Add(float64(upserted))
	}

	w.metrics.EventsPersistedTotal.WithLabelValues(projectID).Add(float64(len(persisted)))
	w.metrics.FlushDuration.Observe(time.Since(start).Seconds())
}

func countExceptions(events []logmodel.LogEvent) int {
	n := 0
	for _, ev := range events {
		if ev.LogType == logmodel.LogTypeException {
			n++
		}
	}
	return n
}

// bulkInsertWithRetry ensures every event's month partition exists, then
// attempts the fast streaming COPY path; on failure it retries with
// backoff, and as a last resort splits the batch into individual
// row-level inserts so a single malformed row doesn't sink the whole
// batch.
func (w *Worker) bulkInsertWithRetry(ctx context.Context, batch []logmodel.LogEvent) []logmodel.LogEvent {
	months := map[string]bool{}
	for _, ev := range batch {
		key := ev.Timestamp.Format("2006-01")
		if !months[key] {
			if err := w.partitions.EnsurePartition(ctx, ev.Timestamp); err != nil {
				w.logger.Error().Err(err).Str("month", key).Msg("failed to ensure partition")
			}
			months[key] = true
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxFlushRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseDelay * time.Duration(1<<uint(attempt-1)))
		}
		if err := w.copyInsert(ctx, batch); err == nil {
			return batch
		} else {
			lastErr = err
		}
	}

	w.logger.Warn().Err(lastErr).Int("batch_size", len(batch)).Msg("bulk copy failed after retries, falling back to row-level insert")
	return w.rowLevelInsert(ctx, batch)
}

var logColumnNames = []string{
	"id", "project_id", "timestamp", "ingested_at", "level", "log_type", "importance",
	"environment", "release", "message", "error_type", "error_message", "stack_trace",
	"attributes", "sdk_version", "platform", "platform_version", "processing_time_ms", "fingerprint",
}

func logColumnValues(ev logmodel.LogEvent) []interface{} {
	var processingTimeMs interface{}
	if ev.ProcessingTimeMs != nil {
		processingTimeMs = *ev.ProcessingTimeMs
	}
	return []interface{}{
		ev.ID, ev.ProjectID, ev.Timestamp, ev.IngestedAt, string(ev.Level), string(ev.LogType), string(ev.Importance),
		ev.Environment, ev.Release, ev.Message, ev.ErrorType, ev.ErrorMessage, ev.StackTrace,
		[]byte(ev.Attributes), ev.SDKVersion, ev.Platform, ev.PlatformVersion, processingTimeMs, ev.Fingerprint,
	}
}

func (w *Worker) copyInsert(ctx context.Context, batch []logmodel.LogEvent) error {
	_, err := w.pool.CopyFrom(ctx,
		pgx.Identifier{"logs"},
		logColumnNames,
		pgx.CopyFromSlice(len(batch), func(i int) ([]interface{}, error) {
			return logColumnValues(batch[i]), nil
		}),
	)
	return err
}

func (w *Worker) rowLevelInsert(ctx context.Context, batch []logmodel.LogEvent) []logmodel.LogEvent {
	const q = `
INSERT INTO logs (id, project_id, timestamp, ingested_at, level, log_type, importance,
	environment, release, message, error_type, error_message, stack_trace,
	attributes, sdk_version, platform, platform_version, processing_time_ms, fingerprint)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
`
	persisted := make([]logmodel.LogEvent, 0, len(batch))
	for _, ev := range batch {
		_, err := w.pool.Exec(ctx, q, logColumnValues(ev)...)
		if err != nil {
			w.metrics.FlushErrorsTotal.Inc()
			w.deadLetter.Write(ctx, ev, err)
			continue
		}
		persisted = append(persisted, ev)
	}
	return persisted
}

// retryLater re-enqueues a batch at the head of the project queue when
// the DB connection budget could not be acquired in time, so the data
// isn't lost — just tried again on the next drain cycle.
func (w *Worker) retryLater(ctx context.Context, projectID string, batch []logmodel.LogEvent) {
	for i := len(batch) - 1; i >= 0; i-- {
		raw, err := encodeEvent(batch[i])
		if err != nil {
			continue
		}
		w.rdb.LPush(ctx, ingest.QueueKey(projectID), raw)
	}
}

func encodeEvent(ev logmodel.LogEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func decodeEvent(raw string, ev *logmodel.LogEvent) error {
	return json.Unmarshal([]byte(raw), ev)
}

// ensureSchemas applies the base (non-partitioned-child) DDL. Call once
// at startup.
func ensureSchemas(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range AllSchemas() {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// EnsureSchemas is the exported entry point main.go calls at startup.
func EnsureSchemas(ctx context.Context, pool *pgxpool.Pool) error {
	return ensureSchemas(ctx, pool)
}
