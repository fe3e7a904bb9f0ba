// Package logmodel defines the wire and storage shapes shared by the
// ingestion, storage, and query layers.
package logmodel

import (
	"encoding/json"
	"time"
)

// Level is the severity of a log event.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

func (l Level) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// IsNotifiable reports whether events at this level should be published
// to the real-time notification bus.
func (l Level) IsNotifiable() bool {
	return l == LevelError || l == LevelCritical
}

// LogType distinguishes the shape and origin of the event payload.
type LogType string

const (
	LogTypeConsole   LogType = "console"
	LogTypeLogger    LogType = "logger"
	LogTypeException LogType = "exception"
	LogTypeNetwork   LogType = "network"
	LogTypeDatabase  LogType = "database"
	LogTypeEndpoint  LogType = "endpoint"
	LogTypeCustom    LogType = "custom"
)

func (t LogType) IsValid() bool {
	switch t {
	case LogTypeConsole, LogTypeLogger, LogTypeException, LogTypeNetwork, LogTypeDatabase, LogTypeEndpoint, LogTypeCustom:
		return true
	}
	return false
}

// Importance lets a caller mark an event as worth extra retention
// attention; it does not affect ingestion or query semantics.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceStandard Importance = "standard"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

func (i Importance) IsValid() bool {
	switch i {
	case "", ImportanceLow, ImportanceStandard, ImportanceHigh, ImportanceCritical:
		return true
	}
	return false
}

// MetricType enumerates the aggregated_metrics bucket kinds the
// analytics scheduler writes.
type MetricType string

const (
	MetricTypeException MetricType = "exception"
	MetricTypeEndpoint  MetricType = "endpoint"
	MetricTypeLogVolume MetricType = "log_volume"
)

// MaxAttributesBytes bounds the raw JSON attributes payload. Attributes
// are stored opaquely; the core never interprets their contents.
const MaxAttributesBytes = 100 * 1024

// StackFrame is one frame of an exception stack trace, already
// normalized (no absolute path, no line/column).
type StackFrame struct {
	File     string `json:"file"`
	Function string `json:"function"`
}

// LogEvent is a single ingested log line, after validation and
// enrichment. It is immutable once persisted.
type LogEvent struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	Timestamp        time.Time       `json:"timestamp"`
	IngestedAt       time.Time       `json:"ingested_at"`
	Level            Level           `json:"level"`
	LogType          LogType         `json:"log_type"`
	Importance       Importance      `json:"importance,omitempty"`
	Environment      string          `json:"environment,omitempty"`
	Release          string          `json:"release,omitempty"`
	Message          string          `json:"message"`
	ErrorType        string          `json:"error_type,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	StackTrace       string          `json:"stack_trace,omitempty"`
	Attributes       json.RawMessage `json:"attributes,omitempty"`
	SDKVersion       string          `json:"sdk_version,omitempty"`
	Platform         string          `json:"platform,omitempty"`
	PlatformVersion  string          `json:"platform_version,omitempty"`
	ProcessingTimeMs *float64        `json:"processing_time_ms,omitempty"`
	Fingerprint      string          `json:"error_fingerprint,omitempty"`
}

// ErrorGroupStatus tracks the triage state of a clustered exception.
type ErrorGroupStatus string

const (
	ErrorGroupUnresolved ErrorGroupStatus = "unresolved"
	ErrorGroupResolved   ErrorGroupStatus = "resolved"
	ErrorGroupIgnored    ErrorGroupStatus = "ignored"
	ErrorGroupMuted      ErrorGroupStatus = "muted"
)

// ErrorGroup clusters log events that share a fingerprint. Sample
// fields are set on first observation and never overwritten.
type ErrorGroup struct {
	ID                string           `json:"id"`
	ProjectID         string           `json:"project_id"`
	Fingerprint       string           `json:"fingerprint"`
	ErrorType         string           `json:"error_type"`
	SampleMessage     string           `json:"sample_message"`
	SampleLogID       string           `json:"sample_log_id"`
	SampleStackTrace  string           `json:"sample_stack_trace"`
	Status            ErrorGroupStatus `json:"status"`
	OccurrenceCount    int64           `json:"occurrence_count"`
	FirstSeen         time.Time        `json:"first_seen"`
	LastSeen          time.Time        `json:"last_seen"`
}

// AggregatedMetric is one pre-computed project/date/hour bucket written
// by the analytics scheduler. EndpointMethod, EndpointPath, LogLevel,
// and LogType are optional dimensions: empty means "not broken down by
// this axis" rather than a literal filter value.
type AggregatedMetric struct {
	ProjectID      string     `json:"project_id"`
	Date           string     `json:"date"` // YYYYMMDD
	Hour           int        `json:"hour"`
	MetricType     MetricType `json:"metric_type"`
	EndpointMethod string     `json:"endpoint_method,omitempty"`
	EndpointPath   string     `json:"endpoint_path,omitempty"`
	LogLevel       string     `json:"log_level,omitempty"`
	LogType        string     `json:"log_type,omitempty"`

	LogCount      int64   `json:"log_count"`
	ErrorCount    int64   `json:"error_count"`
	AvgDurationMs float64 `json:"avg_duration_ms,omitempty"`
	MinDurationMs float64 `json:"min_duration_ms,omitempty"`
	MaxDurationMs float64 `json:"max_duration_ms,omitempty"`
	P95DurationMs float64 `json:"p95_duration_ms,omitempty"`
	P99DurationMs float64 `json:"p99_duration_ms,omitempty"`
}

// CredentialRecord is what the Identity & Quota Cache resolves a
// presented credential to.
type CredentialRecord struct {
	ProjectID        string
	AccountID        string
	DailyQuota       int64
	RatePerMinute    int
	RatePerHour      int
	QuotaUsedToday   int64
	Active           bool
}
