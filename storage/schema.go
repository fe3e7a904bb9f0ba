package storage

import "fmt"

// logsTableSchema is the parent, range-partitioned logs table. Monthly
// partitions are created lazily by EnsurePartition as events for a new
// month arrive.
const logsTableSchema = `
CREATE TABLE IF NOT EXISTS logs (
	id UUID NOT NULL,
	project_id TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL,
	level TEXT NOT NULL,
	log_type TEXT NOT NULL,
	importance TEXT,
	environment TEXT,
	release TEXT,
	message TEXT NOT NULL,
	error_type TEXT,
	error_message TEXT,
	stack_trace TEXT,
	attributes JSONB,
	sdk_version TEXT,
	platform TEXT,
	platform_version TEXT,
	processing_time_ms DOUBLE PRECISION,
	fingerprint TEXT,
	PRIMARY KEY (id, timestamp)
) PARTITION BY RANGE (timestamp);

CREATE INDEX IF NOT EXISTS idx_logs_project_ts ON logs (project_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_logs_fingerprint ON logs (project_id, fingerprint) WHERE fingerprint IS NOT NULL;
`

const errorGroupsTableSchema = `
CREATE TABLE IF NOT EXISTS error_groups (
	id UUID PRIMARY KEY,
	project_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	error_type TEXT NOT NULL,
	sample_message TEXT NOT NULL,
	sample_log_id UUID NOT NULL,
	sample_stack_trace TEXT,
	status TEXT NOT NULL DEFAULT 'unresolved',
	occurrence_count BIGINT NOT NULL DEFAULT 1,
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL,
	UNIQUE (project_id, fingerprint)
);
`

// aggregatedMetricsTableSchema mirrors the metrics contract's bucket
// key {project_id, date, hour, metric_type, endpoint_method?,
// endpoint_path?, log_level?, log_type?}; the four optional dimension
// columns default to '' rather than NULL so they can take part in the
// primary key.
const aggregatedMetricsTableSchema = `
CREATE TABLE IF NOT EXISTS aggregated_metrics (
	project_id TEXT NOT NULL,
	date DATE NOT NULL,
	hour SMALLINT NOT NULL,
	metric_type TEXT NOT NULL,
	endpoint_method TEXT NOT NULL DEFAULT '',
	endpoint_path TEXT NOT NULL DEFAULT '',
	log_level TEXT NOT NULL DEFAULT '',
	log_type TEXT NOT NULL DEFAULT '',
	log_count BIGINT NOT NULL DEFAULT 0,
	error_count BIGINT NOT NULL DEFAULT 0,
	avg_duration_ms DOUBLE PRECISION,
	min_duration_ms DOUBLE PRECISION,
	max_duration_ms DOUBLE PRECISION,
	p95_duration_ms DOUBLE PRECISION,
	p99_duration_ms DOUBLE PRECISION,
	PRIMARY KEY (project_id, date, hour, metric_type, endpoint_method, endpoint_path, log_level, log_type)
);
`

const ingestionMetricsTableSchema = `
CREATE TABLE IF NOT EXISTS ingestion_metrics (
	project_id TEXT NOT NULL,
	bucket_time TIMESTAMPTZ NOT NULL,
	events_received BIGINT NOT NULL DEFAULT 0,
	events_persisted BIGINT NOT NULL DEFAULT 0,
	events_rejected BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, bucket_time)
);
`

// AllSchemas returns every base-table DDL statement, applied once at
// startup before any partition is created.
func AllSchemas() []string {
	return []string{
		logsTableSchema,
		errorGroupsTableSchema,
		aggregatedMetricsTableSchema,
		ingestionMetricsTableSchema,
	}
}

// partitionDDL returns the DDL to create one monthly logs partition
// named logs_YYYY_MM covering [from, to).
func partitionDDL(partitionName, fromISO, toISO string) string {
	return fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF logs FOR VALUES FROM ('%s') TO ('%s');`,
		partitionName, fromISO, toISO,
	)
}

func detachPartitionDDL(partitionName string) string {
	return fmt.Sprintf(`ALTER TABLE logs DETACH PARTITION %s;`, partitionName)
}

func dropPartitionDDL(partitionName string) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, partitionName)
}
