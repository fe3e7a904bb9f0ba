package analyticsjob

import (
	"context"
	"time"

	"github.com/lumenstack/logflow/logmodel"
	"github.com/lumenstack/logflow/query"
)

// runErrorRate buckets the last 24h into 5-minute windows and counts
// error/critical events per bucket.
func (s *Scheduler) runErrorRate(ctx context.Context, projectID string) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
SELECT gs AS bucket,
	count(*) FILTER (WHERE l.level = 'error') AS error_count,
	count(*) FILTER (WHERE l.level = 'critical') AS critical_count
FROM generate_series($2::timestamptz, $3::timestamptz, interval '5 minutes') gs
LEFT JOIN logs l ON l.project_id = $1 AND l.timestamp >= gs AND l.timestamp < gs + interval '5 minutes'
GROUP BY gs
ORDER BY gs`, projectID, start, end)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("error_rate query failed")
		return
	}
	defer rows.Close()

	var points []query.ErrorRatePoint
	for rows.Next() {
		var p query.ErrorRatePoint
		if err := rows.Scan(&p.Timestamp, &p.ErrorCount, &p.CriticalCount); err != nil {
			s.logger.Error().Err(err).Msg("error_rate row scan failed")
			return
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return
	}

	s.cacheJSON(ctx, query.ErrorRateKey(projectID), s.cadences.ErrorRate, points)
}

// runLogVolume buckets the last 24h into 5-minute windows, broken down
// by level.
func (s *Scheduler) runLogVolume(ctx context.Context, projectID string) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
SELECT gs AS bucket,
	count(*) FILTER (WHERE l.level = 'debug') AS debug,
	count(*) FILTER (WHERE l.level = 'info') AS info,
	count(*) FILTER (WHERE l.level = 'warning') AS warning,
	count(*) FILTER (WHERE l.level = 'error') AS error,
	count(*) FILTER (WHERE l.level = 'critical') AS critical
FROM generate_series($2::timestamptz, $3::timestamptz, interval '5 minutes') gs
LEFT JOIN logs l ON l.project_id = $1 AND l.timestamp >= gs AND l.timestamp < gs + interval '5 minutes'
GROUP BY gs
ORDER BY gs`, projectID, start, end)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("log_volume query failed")
		return
	}
	defer rows.Close()

	var points []query.LogVolumePoint
	for rows.Next() {
		var p query.LogVolumePoint
		if err := rows.Scan(&p.Timestamp, &p.Debug, &p.Info, &p.Warning, &p.Error, &p.Critical); err != nil {
			s.logger.Error().Err(err).Msg("log_volume row scan failed")
			return
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return
	}

	s.cacheJSON(ctx, query.LogVolumeKey(projectID), s.cadences.LogVolume, points)
}

// runTopErrors ranks error_groups by occurrence_count over the last 24h
// of activity, top 50.
func (s *Scheduler) runTopErrors(ctx context.Context, projectID string) {
	since := time.Now().UTC().Add(-24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
SELECT eg.fingerprint, eg.error_type, eg.occurrence_count, eg.first_seen, eg.last_seen, eg.status, eg.sample_log_id
FROM error_groups eg
WHERE eg.project_id = $1 AND eg.last_seen >= $2
ORDER BY eg.occurrence_count DESC
LIMIT 50`, projectID, since)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("top_errors query failed")
		return
	}
	defer rows.Close()

	var top []query.TopError
	for rows.Next() {
		var t query.TopError
		if err := rows.Scan(&t.Fingerprint, &t.ErrorType, &t.OccurrenceCount, &t.FirstSeen, &t.LastSeen, &t.Status, &t.SampleLogID); err != nil {
			s.logger.Error().Err(err).Msg("top_errors row scan failed")
			return
		}
		top = append(top, t)
	}
	if rows.Err() != nil {
		return
	}

	s.cacheJSON(ctx, query.TopErrorsKey(projectID), s.cadences.TopErrors, top)
}

// runUsageStats computes per-day log counts over the last 30 days by
// summing ingestion_metrics.events_persisted per day; a day with no
// ingestion_metrics row has a log count of 0. Only Date and LogCount are
// filled in: DailyQuota and QuotaUsedPercent are not computed and stay 0.
func (s *Scheduler) runUsageStats(ctx context.Context, projectID string) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	rows, err := s.pool.Query(ctx, `
SELECT date_trunc('day', gs)::date AS day,
	COALESCE(SUM(im.events_persisted), 0) AS log_count
FROM generate_series($2::timestamptz, $3::timestamptz, interval '1 day') gs
LEFT JOIN ingestion_metrics im ON im.project_id = $1
	AND im.bucket_time >= date_trunc('day', gs) AND im.bucket_time < date_trunc('day', gs) + interval '1 day'
GROUP BY day
ORDER BY day`, projectID, start, end)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("usage_stats query failed")
		return
	}
	defer rows.Close()

	var days []query.UsageStatDay
	for rows.Next() {
		var day time.Time
		var logCount int64
		if err := rows.Scan(&day, &logCount); err != nil {
			s.logger.Error().Err(err).Msg("usage_stats row scan failed")
			return
		}
		days = append(days, query.UsageStatDay{
			Date:     day.Format("2006-01-02"),
			LogCount: logCount,
		})
	}
	if rows.Err() != nil {
		return
	}

	s.cacheJSON(ctx, query.UsageStatsKey(projectID), s.cadences.UsageStats, days)
}

// aggregatedMetricsUpsert writes one project/date/hour/metric_type
// bucket. The four dimension columns are never null (empty string
// means "not broken down by this axis"), so they can take part in the
// conflict target.
const aggregatedMetricsUpsert = `
INSERT INTO aggregated_metrics
	(project_id, date, hour, metric_type, endpoint_method, endpoint_path, log_level, log_type,
	 log_count, error_count, avg_duration_ms, min_duration_ms, max_duration_ms, p95_duration_ms, p99_duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (project_id, date, hour, metric_type, endpoint_method, endpoint_path, log_level, log_type) DO UPDATE SET
	log_count = EXCLUDED.log_count,
	error_count = EXCLUDED.error_count,
	avg_duration_ms = EXCLUDED.avg_duration_ms,
	min_duration_ms = EXCLUDED.min_duration_ms,
	max_duration_ms = EXCLUDED.max_duration_ms,
	p95_duration_ms = EXCLUDED.p95_duration_ms,
	p99_duration_ms = EXCLUDED.p99_duration_ms
`

// runAggregatedMetrics rolls up the last completed hour into the
// persistent aggregated_metrics table: overall log_volume and exception
// counts, plus one endpoint row per (method, path) pair carrying the
// duration percentiles the endpoint metric_type exists for.
func (s *Scheduler) runAggregatedMetrics(ctx context.Context, projectID string) {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Add(-time.Hour)
	next := bucket.Add(time.Hour)
	date := bucket.Format("2006-01-02")
	hour := bucket.Hour()

	var logVolume, errorCount int64
	err := s.pool.QueryRow(ctx, `
SELECT count(*),
	count(*) FILTER (WHERE level IN ('error', 'critical'))
FROM logs
WHERE project_id = $1 AND timestamp >= $2 AND timestamp < $3`, projectID, bucket, next,
	).Scan(&logVolume, &errorCount)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("aggregated_metrics log_volume source query failed")
		return
	}
	if _, err := s.pool.Exec(ctx, aggregatedMetricsUpsert, projectID, date, hour, string(logmodel.MetricTypeLogVolume),
		"", "", "", "", logVolume, errorCount, nil, nil, nil, nil, nil); err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("aggregated_metrics log_volume upsert failed")
	}

	var exceptionCount int64
	err = s.pool.QueryRow(ctx, `
SELECT count(*) FROM logs
WHERE project_id = $1 AND timestamp >= $2 AND timestamp < $3 AND log_type = $4`,
		projectID, bucket, next, string(logmodel.LogTypeException),
	).Scan(&exceptionCount)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("aggregated_metrics exception source query failed")
		return
	}
	if _, err := s.pool.Exec(ctx, aggregatedMetricsUpsert, projectID, date, hour, string(logmodel.MetricTypeException),
		"", "", "", "", exceptionCount, exceptionCount, nil, nil, nil, nil, nil); err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("aggregated_metrics exception upsert failed")
	}

	rows, err := s.pool.Query(ctx, `
SELECT
	COALESCE(attributes->>'http_method', '') AS endpoint_method,
	COALESCE(attributes->>'http_path', '') AS endpoint_path,
	count(*) AS log_count,
	count(*) FILTER (WHERE level IN ('error', 'critical')) AS error_count,
	avg(processing_time_ms) AS avg_duration_ms,
	min(processing_time_ms) AS min_duration_ms,
	max(processing_time_ms) AS max_duration_ms,
	percentile_cont(0.95) WITHIN GROUP (ORDER BY processing_time_ms) AS p95_duration_ms,
	percentile_cont(0.99) WITHIN GROUP (ORDER BY processing_time_ms) AS p99_duration_ms
FROM logs
WHERE project_id = $1 AND timestamp >= $2 AND timestamp < $3
	AND log_type = $4 AND processing_time_ms IS NOT NULL
GROUP BY endpoint_method, endpoint_path`,
		projectID, bucket, next, string(logmodel.LogTypeEndpoint))
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("aggregated_metrics endpoint source query failed")
		return
	}
	defer rows.Close()

	type endpointBucket struct {
		method, path                       string
		logCount, errorCount               int64
		avg, min, max, p95, p99            float64
	}
	var buckets []endpointBucket
	for rows.Next() {
		var b endpointBucket
		if err := rows.Scan(&b.method, &b.path, &b.logCount, &b.errorCount, &b.avg, &b.min, &b.max, &b.p95, &b.p99); err != nil {
			s.logger.Error().Err(err).Msg("aggregated_metrics endpoint row scan failed")
			return
		}
		buckets = append(buckets, b)
	}
	if rows.Err() != nil {
		return
	}

	for _, b := range buckets {
		if _, err := s.pool.Exec(ctx, aggregatedMetricsUpsert, projectID, date, hour, string(logmodel.MetricTypeEndpoint),
			b.method, b.path, "", "", b.logCount, b.errorCount, b.avg, b.min, b.max, b.p95, b.p99); err != nil {
			s.logger.Error().Err(err).Str("project_id", projectID).Msg("aggregated_metrics endpoint upsert failed")
		}
	}
}
