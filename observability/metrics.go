// Package observability exposes the Prometheus metrics this service
// emits for the ingestion, storage, and policy-gate paths.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the central metrics registry for this service, wrapping a
// dedicated prometheus.Registry rather than the global default one; the
// Go-runtime and process collectors are registered into it explicitly.
type Metrics struct {
	registry *prometheus.Registry

	IngestRequestsTotal   *prometheus.CounterVec
	IngestRejectedTotal   *prometheus.CounterVec
	QueueDepth            *prometheus.GaugeVec
	FlushBatchSize        prometheus.Histogram
	FlushDuration         prometheus.Histogram
	FlushErrorsTotal      prometheus.Counter
	EventsPersistedTotal  *prometheus.CounterVec
	ErrorGroupsUpserted   prometheus.Counter
	BreakerStateChanges   *prometheus.CounterVec
	RateLimitRejections   *prometheus.CounterVec
	NotificationsDropped  prometheus.Counter
	AggregationJobRuns    *prometheus.CounterVec
	AggregationJobLatency *prometheus.HistogramVec
}

// NewMetrics builds and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		IngestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logflow_ingest_requests_total",
			Help: "Ingestion requests by outcome.",
		}, []string{"outcome"}),

		IngestRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logflow_ingest_rejected_total",
			Help: "Ingestion requests rejected, by reason.",
		}, []string{"reason"}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "logflow_queue_depth",
			Help: "Current per-project queue depth.",
		}, []string{"project_id"}),

		FlushBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "logflow_flush_batch_size",
			Help:    "Number of events per storage-worker flush.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000},
		}),

		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "logflow_flush_duration_seconds",
			Help:    "Time to bulk-insert one flush batch.",
			Buckets: prometheus.DefBuckets,
		}),

		FlushErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "logflow_flush_errors_total",
			Help: "Flush attempts that failed after all retries.",
		}),

		EventsPersistedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logflow_events_persisted_total",
			Help: "Log events durably persisted, by project.",
		}, []string{"project_id"}),

		ErrorGroupsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "logflow_error_groups_upserted_total",
			Help: "Error-group upserts performed by the storage worker.",
		}),

		BreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logflow_breaker_state_changes_total",
			Help: "Circuit breaker state transitions, by breaker name and new state.",
		}, []string{"breaker", "state"}),

		RateLimitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logflow_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter, by window.",
		}, []string{"window"}),

		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "logflow_notifications_dropped_total",
			Help: "Notifications dropped from a slow SSE subscriber's bounded channel.",
		}),

		AggregationJobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logflow_aggregation_job_runs_total",
			Help: "Scheduled analytics pre-aggregation job runs, by job and outcome.",
		}, []string{"job", "outcome"}),

		AggregationJobLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logflow_aggregation_job_duration_seconds",
			Help:    "Scheduled analytics pre-aggregation job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}

// Handler serves /metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
