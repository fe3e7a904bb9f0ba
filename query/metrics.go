package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumenstack/logflow/logmodel"
)

// ErrorRatePoint is one bucket of the error_rate series.
type ErrorRatePoint struct {
	Timestamp     time.Time `json:"timestamp"`
	ErrorCount    int64     `json:"error_count"`
	CriticalCount int64     `json:"critical_count"`
}

// LogVolumePoint is one bucket of the log_volume series, broken down by
// level.
type LogVolumePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Debug     int64     `json:"debug"`
	Info      int64     `json:"info"`
	Warning   int64     `json:"warning"`
	Error     int64     `json:"error"`
	Critical  int64     `json:"critical"`
}

// TopError is one ranked entry of the top_errors listing.
type TopError struct {
	Fingerprint     string    `json:"fingerprint"`
	ErrorType       string    `json:"error_type"`
	OccurrenceCount int64     `json:"occurrence_count"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	SampleLogID     string    `json:"sample_log_id"`
	Status          string    `json:"status,omitempty"`
}

// UsageStatDay is one day of the usage_stats series.
type UsageStatDay struct {
	Date              string  `json:"date"`
	LogCount          int64   `json:"log_count"`
	DailyQuota        int64   `json:"daily_quota"`
	QuotaUsedPercent  float64 `json:"quota_used_percent"`
}

// Redis keys the analyticsjob scheduler writes to and MetricsStore reads
// from. Centralized here since this package defines the read contract;
// analyticsjob depends on query for these, never the reverse.
func ErrorRateKey(projectID string) string  { return fmt.Sprintf("metrics:error_rate:%s", projectID) }
func LogVolumeKey(projectID string) string  { return fmt.Sprintf("metrics:log_volume:%s", projectID) }
func TopErrorsKey(projectID string) string  { return fmt.Sprintf("metrics:top_errors:%s", projectID) }
func UsageStatsKey(projectID string) string { return fmt.Sprintf("metrics:usage_stats:%s", projectID) }

// MetricsStore serves the pre-aggregated metric series the
// analyticsjob scheduler computed on its cadence. The four rolling
// series (error_rate, log_volume, top_errors, usage_stats) live in
// Redis as cache-with-TTL, per the metrics contract; aggregated_metrics
// alone is read straight from its persistent Postgres table.
type MetricsStore struct {
	rdb  *redis.Client
	pool *pgxpool.Pool
}

func NewMetricsStore(rdb *redis.Client, pool *pgxpool.Pool) *MetricsStore {
	return &MetricsStore{rdb: rdb, pool: pool}
}

func (m *MetricsStore) ErrorRate(ctx context.Context, projectID string) ([]ErrorRatePoint, error) {
	var out []ErrorRatePoint
	if err := m.readCached(ctx, ErrorRateKey(projectID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MetricsStore) LogVolume(ctx context.Context, projectID string) ([]LogVolumePoint, error) {
	var out []LogVolumePoint
	if err := m.readCached(ctx, LogVolumeKey(projectID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TopErrors returns up to limit entries (capped by what the scheduler
// cached, at most 50) optionally filtered by status.
func (m *MetricsStore) TopErrors(ctx context.Context, projectID string, limit int, status string) ([]TopError, error) {
	var all []TopError
	if err := m.readCached(ctx, TopErrorsKey(projectID), &all); err != nil {
		return nil, err
	}
	filtered := all
	if status != "" {
		filtered = filtered[:0]
		for _, e := range all {
			if e.Status == status {
				filtered = append(filtered, e)
			}
		}
	}
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (m *MetricsStore) UsageStats(ctx context.Context, projectID string) ([]UsageStatDay, error) {
	var out []UsageStatDay
	if err := m.readCached(ctx, UsageStatsKey(projectID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MetricsStore) readCached(ctx context.Context, key string, dest interface{}) error {
	raw, err := m.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading cached metric %s: %w", key, err)
	}
	return json.Unmarshal(raw, dest)
}

// AggregatedMetricsFilter narrows an aggregated_metrics read to the
// optional dimension columns; an empty field means "don't filter on
// this axis" rather than "match the empty-string bucket".
type AggregatedMetricsFilter struct {
	EndpointMethod string
	EndpointPath   string
	LogLevel       string
	LogType        string
}

// AggregatedMetrics reads pre-computed project/date/hour x metric_type
// buckets directly from the persistent aggregated_metrics table, scoped
// to [periodFrom, periodTo].
func (m *MetricsStore) AggregatedMetrics(ctx context.Context, projectID string, metricType logmodel.MetricType, filter AggregatedMetricsFilter, periodFrom, periodTo time.Time) ([]logmodel.AggregatedMetric, error) {
	where := []string{"project_id = $1", "metric_type = $2",
		"(date + (hour || ' hours')::interval) >= $3", "(date + (hour || ' hours')::interval) <= $4"}
	args := []interface{}{projectID, string(metricType), periodFrom, periodTo}

	if filter.EndpointMethod != "" {
		args = append(args, filter.EndpointMethod)
		where = append(where, fmt.Sprintf("endpoint_method = $%d", len(args)))
	}
	if filter.EndpointPath != "" {
		args = append(args, filter.EndpointPath)
		where = append(where, fmt.Sprintf("endpoint_path = $%d", len(args)))
	}
	if filter.LogLevel != "" {
		args = append(args, filter.LogLevel)
		where = append(where, fmt.Sprintf("log_level = $%d", len(args)))
	}
	if filter.LogType != "" {
		args = append(args, filter.LogType)
		where = append(where, fmt.Sprintf("log_type = $%d", len(args)))
	}

	q := `
SELECT project_id, date, hour, metric_type, endpoint_method, endpoint_path, log_level, log_type,
	log_count, error_count, avg_duration_ms, min_duration_ms, max_duration_ms, p95_duration_ms, p99_duration_ms
FROM aggregated_metrics
WHERE ` + strings.Join(where, " AND ") + `
ORDER BY date ASC, hour ASC`

	rows, err := m.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying aggregated_metrics: %w", err)
	}
	defer rows.Close()

	var out []logmodel.AggregatedMetric
	for rows.Next() {
		var am logmodel.AggregatedMetric
		var date time.Time
		var metricType string
		var avg, min, max, p95, p99 *float64
		if err := rows.Scan(&am.ProjectID, &date, &am.Hour, &metricType, &am.EndpointMethod, &am.EndpointPath,
			&am.LogLevel, &am.LogType, &am.LogCount, &am.ErrorCount, &avg, &min, &max, &p95, &p99); err != nil {
			return nil, fmt.Errorf("scanning aggregated_metrics row: %w", err)
		}
		am.Date = date.Format("20060102")
		am.MetricType = logmodel.MetricType(metricType)
		if avg != nil {
			am.AvgDurationMs = *avg
		}
		if min != nil {
			am.MinDurationMs = *min
		}
		if max != nil {
			am.MaxDurationMs = *max
		}
		if p95 != nil {
			am.P95DurationMs = *p95
		}
		if p99 != nil {
			am.P99DurationMs = *p99
		}
		out = append(out, am)
	}
	return out, rows.Err()
}
