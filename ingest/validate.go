package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumenstack/logflow/apierr"
	"github.com/lumenstack/logflow/logmodel"
)

// rawEvent is the wire shape a client submits; timestamp arrives as a
// string so we can validate parseability before committing to a type.
type rawEvent struct {
	Timestamp        string          `json:"timestamp"`
	Level            string          `json:"level"`
	LogType          string          `json:"log_type"`
	Importance       string          `json:"importance,omitempty"`
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
}

const (
	maxMessageBytes      = 10 * 1024
	maxErrorMessageBytes = 5 * 1024
	maxStackTraceBytes   = 50 * 1024
)

// Validate decodes and validates one raw ingestion payload for
// projectID, returning a LogEvent with its fields normalized but not yet
// enriched (no ID, ingested_at, or fingerprint).
func Validate(raw []byte, projectID string, maxAttributeBytes int) (logmodel.LogEvent, error) {
	var re rawEvent
	if err := json.Unmarshal(raw, &re); err != nil {
		return logmodel.LogEvent{}, apierr.Validation(fmt.Sprintf("invalid JSON body: %s", err))
	}

	ts, err := time.Parse(time.RFC3339Nano, re.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, re.Timestamp)
	}
	if err != nil {
		return logmodel.LogEvent{}, apierr.Validation("timestamp must be RFC3339")
	}

	level := logmodel.Level(re.Level)
	if !level.IsValid() {
		return logmodel.LogEvent{}, apierr.Validation(fmt.Sprintf("invalid level %q", re.Level))
	}

	logType := logmodel.LogType(re.LogType)
	if !logType.IsValid() {
		return logmodel.LogEvent{}, apierr.Validation(fmt.Sprintf("invalid log_type %q", re.LogType))
	}

	importance := logmodel.Importance(re.Importance)
	if !importance.IsValid() {
		return logmodel.LogEvent{}, apierr.Validation(fmt.Sprintf("invalid importance %q", re.Importance))
	}

	if re.Message == "" {
		return logmodel.LogEvent{}, apierr.Validation("message is required")
	}
	if len(re.Message) > maxMessageBytes {
		return logmodel.LogEvent{}, apierr.Validation("message exceeds maximum size")
	}
	if len(re.ErrorMessage) > maxErrorMessageBytes {
		return logmodel.LogEvent{}, apierr.Validation("error_message exceeds maximum size")
	}
	if len(re.StackTrace) > maxStackTraceBytes {
		return logmodel.LogEvent{}, apierr.Validation("stack_trace exceeds maximum size")
	}

	if len(re.Attributes) > maxAttributeBytes {
		return logmodel.LogEvent{}, apierr.Validation("attributes exceed maximum size")
	}
	if len(re.Attributes) > 0 && !json.Valid(re.Attributes) {
		return logmodel.LogEvent{}, apierr.Validation("attributes must be valid JSON")
	}

	if logType == logmodel.LogTypeException && re.ErrorType == "" {
		return logmodel.LogEvent{}, apierr.Validation("error_type is required for exception events")
	}

	return logmodel.LogEvent{
		ProjectID:        projectID,
		Timestamp:        ts,
		Level:            level,
		LogType:          logType,
		Importance:       importance,
		Environment:      re.Environment,
		Release:          re.Release,
		Message:          re.Message,
		ErrorType:        re.ErrorType,
		ErrorMessage:     re.ErrorMessage,
		StackTrace:       re.StackTrace,
		Attributes:       re.Attributes,
		SDKVersion:       re.SDKVersion,
		Platform:         re.Platform,
		PlatformVersion:  re.PlatformVersion,
		ProcessingTimeMs: re.ProcessingTimeMs,
	}, nil
}
