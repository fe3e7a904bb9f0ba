package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/apierr"
	"github.com/lumenstack/logflow/logmodel"
	"github.com/lumenstack/logflow/notifyhub"
	"github.com/lumenstack/logflow/observability"
)

// QueueKey returns the Redis list key backing a project's ingestion
// queue.
func QueueKey(projectID string) string {
	return fmt.Sprintf("queue:logs:%s", projectID)
}

// ActiveProjectsSet is the Redis set of projects that have had events
// enqueued. The storage worker polls it to start a drain goroutine for
// each listed project, and a drain goroutine removes its project once the
// queue has stayed empty.
const ActiveProjectsSet = "queue:active-projects"

// Front is the Ingest Front (C3): validate -> enrich -> backpressure
// check -> enqueue -> notify.
type Front struct {
	rdb               *redis.Client
	logger            zerolog.Logger
	metrics           *observability.Metrics
	queueCeiling      int64
	maxAttributeBytes int
}

// New creates an ingest Front.
func New(rdb *redis.Client, logger zerolog.Logger, metrics *observability.Metrics, queueCeiling int64, maxAttributeBytes int) *Front {
	return &Front{
		rdb:               rdb,
		logger:            logger.With().Str("component", "ingest_front").Logger(),
		metrics:           metrics,
		queueCeiling:      queueCeiling,
		maxAttributeBytes: maxAttributeBytes,
	}
}

// Depth returns the current queue depth for a project.
func (f *Front) Depth(ctx context.Context, projectID string) (int64, error) {
	return f.rdb.LLen(ctx, QueueKey(projectID)).Result()
}

// Ingest validates, enriches, and enqueues one raw event for projectID.
// It publishes a best-effort notification for error/critical events
// before returning.
func (f *Front) Ingest(ctx context.Context, projectID string, raw []byte) (logmodel.LogEvent, error) {
	ev, err := Validate(raw, projectID, f.maxAttributeBytes)
	if err != nil {
		f.metrics.IngestRejectedTotal.WithLabelValues("validation").Inc()
		return logmodel.LogEvent{}, err
	}

	ev.ID = uuid.NewString()
	ev.IngestedAt = time.Now().UTC()

	if ev.ErrorType != "" {
		ev.Fingerprint = Fingerprint(ev.ErrorType, ev.StackTrace, ev.Platform)
	}

	depth, err := f.Depth(ctx, projectID)
	if err != nil {
		f.logger.Warn().Err(err).Str("project_id", projectID).Msg("failed to read queue depth, proceeding optimistically")
	} else if depth >= f.queueCeiling {
		f.metrics.IngestRejectedTotal.WithLabelValues("backpressure").Inc()
		return logmodel.LogEvent{}, apierr.QueueFull(
			fmt.Sprintf("project %s queue at capacity (%d)", projectID, f.queueCeiling), 1)
	}

	encoded, err := json.Marshal(ev)
	if err != nil {
		return logmodel.LogEvent{}, apierr.Internal("failed to encode event")
	}

	if err := f.rdb.RPush(ctx, QueueKey(projectID), encoded).Err(); err != nil {
		f.metrics.IngestRejectedTotal.WithLabelValues("enqueue_error").Inc()
		return logmodel.LogEvent{}, apierr.Internal("failed to enqueue event")
	}
	f.rdb.SAdd(ctx, ActiveProjectsSet, projectID)

	f.metrics.IngestRequestsTotal.WithLabelValues("accepted").Inc()
	f.metrics.QueueDepth.WithLabelValues(projectID).Set(float64(depth + 1))

	notifyhub.Publish(ctx, f.rdb, f.logger, ev)

	return ev, nil
}

// Rejection records why one item of a batch was not accepted, indexed
// by its position in the submitted array.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// IngestBatch validates and enqueues each event in raws independently;
// per-event failures do not abort the batch. It returns accepted events
// and, for every rejected item, its index and rejection reason.
func (f *Front) IngestBatch(ctx context.Context, projectID string, raws []json.RawMessage) ([]logmodel.LogEvent, []Rejection) {
	accepted := make([]logmodel.LogEvent, 0, len(raws))
	var rejections []Rejection
	for i, raw := range raws {
		ev, err := f.Ingest(ctx, projectID, raw)
		if err != nil {
			rejections = append(rejections, Rejection{Index: i, Reason: err.Error()})
			continue
		}
		accepted = append(accepted, ev)
	}
	return accepted, rejections
}
