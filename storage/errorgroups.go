package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenstack/logflow/logmodel"
	"github.com/lumenstack/logflow/middleware"
)

// ErrorGroupStore upserts error_groups rows, serialized per
// (project_id, fingerprint) via a KeyedMutex so concurrent flush
// goroutines never race on the same group's occurrence_count/last_seen
// update.
type ErrorGroupStore struct {
	pool  *pgxpool.Pool
	locks *middleware.KeyedMutex
}

// NewErrorGroupStore creates an ErrorGroupStore.
func NewErrorGroupStore(pool *pgxpool.Pool) *ErrorGroupStore {
	return &ErrorGroupStore{pool: pool, locks: middleware.NewKeyedMutex()}
}

// Upsert clusters ev into its error group: occurrence_count increments,
// last_seen advances to max(existing, ev.timestamp), and the sample
// fields are written once, on first creation, never overwritten.
func (s *ErrorGroupStore) Upsert(ctx context.Context, ev logmodel.LogEvent) error {
	if ev.Fingerprint == "" {
		return nil
	}
	key := ev.ProjectID + "|" + ev.Fingerprint
	unlock := s.locks.Lock(key)
	defer unlock()

	const q = `
INSERT INTO error_groups
	(id, project_id, fingerprint, error_type, sample_message, sample_log_id, sample_stack_trace, status, occurrence_count, first_seen, last_seen)
VALUES
	($1, $2, $3, $4, $5, $6, $7, 'unresolved', 1, $8, $8)
ON CONFLICT (project_id, fingerprint) DO UPDATE SET
	occurrence_count = error_groups.occurrence_count + 1,
	last_seen = GREATEST(error_groups.last_seen, EXCLUDED.last_seen)
`
	_, err := s.pool.Exec(ctx, q,
		uuid.NewString(), ev.ProjectID, ev.Fingerprint, ev.ErrorType,
		truncate(ev.Message, 2000), ev.ID, truncate(ev.StackTrace, 8000), ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upserting error group: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// UpsertAll upserts every event in a batch that carries a fingerprint,
// regardless of its log_type.
func (s *ErrorGroupStore) UpsertAll(ctx context.Context, events []logmodel.LogEvent) error {
	for _, ev := range events {
		if ev.Fingerprint == "" {
			continue
		}
		if err := s.Upsert(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
