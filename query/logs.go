// Package query implements the Query & Analytics (C5) read path: single
// log lookup, time-and-filter scoped listing, and text search, all
// scoped to a timestamp range so Postgres' own partition pruning on the
// logs table does the work, plus read access to the pre-aggregated
// metrics the analyticsjob scheduler writes.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenstack/logflow/logmodel"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Store is the read-side handle onto the logs database.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// LogsParams scopes query_logs and search_logs. StartTime/EndTime are
// mandatory: they bound the partitions Postgres needs to scan.
type LogsParams struct {
	StartTime        time.Time
	EndTime          time.Time
	Level            logmodel.Level
	LogType          logmodel.LogType
	ErrorFingerprint string

	Limit  int
	Offset int

	// AfterTimestamp/AfterID enable keyset pagination on (timestamp, id)
	// in place of Offset, for callers that want to avoid O(offset) scans.
	AfterTimestamp time.Time
	AfterID        string
}

func (p *LogsParams) clampLimit() {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
}

// Result is the shared response shape for query_logs and search_logs.
type Result struct {
	Logs    []logmodel.LogEvent `json:"logs"`
	Total   int64                `json:"total"`
	HasMore bool                 `json:"has_more"`
}

const logColumns = `id, project_id, timestamp, ingested_at, level, log_type, importance, environment, release,
	message, error_type, error_message, stack_trace, attributes, sdk_version, platform, platform_version,
	processing_time_ms, fingerprint`

// GetLog fetches a single event by id, scoped to project_id. Returns
// pgx.ErrNoRows (unwrapped, callers check via errors.Is) when absent.
func (s *Store) GetLog(ctx context.Context, projectID, logID string) (*logmodel.LogEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+logColumns+` FROM logs WHERE project_id = $1 AND id = $2`,
		projectID, logID)

	ev, err := scanLogEvent(row)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// QueryLogs lists events for projectID within [StartTime, EndTime],
// narrowed by the optional level/log_type/fingerprint filters. The
// WHERE clause always includes the timestamp range first so Postgres
// prunes to the overlapping monthly partitions before applying filters.
func (s *Store) QueryLogs(ctx context.Context, projectID string, p LogsParams) (Result, error) {
	p.clampLimit()

	where := []string{"project_id = $1", "timestamp >= $2", "timestamp <= $3"}
	args := []interface{}{projectID, p.StartTime, p.EndTime}

	if p.Level != "" {
		args = append(args, string(p.Level))
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}
	if p.LogType != "" {
		args = append(args, string(p.LogType))
		where = append(where, fmt.Sprintf("log_type = $%d", len(args)))
	}
	if p.ErrorFingerprint != "" {
		args = append(args, p.ErrorFingerprint)
		where = append(where, fmt.Sprintf("fingerprint = $%d", len(args)))
	}
	if !p.AfterTimestamp.IsZero() && p.AfterID != "" {
		args = append(args, p.AfterTimestamp, p.AfterID)
		where = append(where, fmt.Sprintf("(timestamp, id) > ($%d, $%d)", len(args)-1, len(args)))
	}

	return s.run(ctx, where, args, p.Limit, p.Offset, p.AfterID != "")
}

// SearchLogs performs a case-insensitive substring match over message
// and error_message within the same time-bounded window as QueryLogs.
func (s *Store) SearchLogs(ctx context.Context, projectID, queryText string, p LogsParams) (Result, error) {
	p.clampLimit()

	where := []string{"project_id = $1", "timestamp >= $2", "timestamp <= $3"}
	args := []interface{}{projectID, p.StartTime, p.EndTime}

	args = append(args, "%"+strings.ToLower(queryText)+"%")
	where = append(where, fmt.Sprintf("(lower(message) LIKE $%d OR lower(error_message) LIKE $%d)", len(args), len(args)))

	return s.run(ctx, where, args, p.Limit, p.Offset, false)
}

func (s *Store) run(ctx context.Context, where []string, args []interface{}, limit, offset int, keyset bool) (Result, error) {
	whereClause := strings.Join(where, " AND ")

	var total int64
	countQ := `SELECT count(*) FROM logs WHERE ` + whereClause
	if err := s.pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return Result{}, fmt.Errorf("counting logs: %w", err)
	}

	// fetch one extra row to derive has_more without a second round trip
	listQ := `SELECT ` + logColumns + ` FROM logs WHERE ` + whereClause + ` ORDER BY timestamp ASC, id ASC LIMIT $%d`
	listArgs := append(append([]interface{}{}, args...), limit+1)
	if !keyset {
		listQ += ` OFFSET $%d`
		listArgs = append(listArgs, offset)
		listQ = fmt.Sprintf(listQ, len(args)+1, len(args)+2)
	} else {
		listQ = fmt.Sprintf(listQ, len(args)+1)
	}

	rows, err := s.pool.Query(ctx, listQ, listArgs...)
	if err != nil {
		return Result{}, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	events := make([]logmodel.LogEvent, 0, limit)
	for rows.Next() {
		ev, err := scanLogEvent(rows)
		if err != nil {
			return Result{}, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	return Result{Logs: events, Total: total, HasMore: hasMore}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLogEvent(row rowScanner) (*logmodel.LogEvent, error) {
	var ev logmodel.LogEvent
	var attrs []byte
	err := row.Scan(
		&ev.ID, &ev.ProjectID, &ev.Timestamp, &ev.IngestedAt, &ev.Level, &ev.LogType, &ev.Importance,
		&ev.Environment, &ev.Release, &ev.Message, &ev.ErrorType, &ev.ErrorMessage, &ev.StackTrace,
		&attrs, &ev.SDKVersion, &ev.Platform, &ev.PlatformVersion, &ev.ProcessingTimeMs, &ev.Fingerprint,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning log event: %w", err)
	}
	if len(attrs) > 0 {
		ev.Attributes = json.RawMessage(attrs)
	}
	return &ev, nil
}
