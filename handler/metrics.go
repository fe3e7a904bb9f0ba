package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lumenstack/logflow/apierr"
	"github.com/lumenstack/logflow/logmodel"
	"github.com/lumenstack/logflow/query"
	"github.com/lumenstack/logflow/reqctx"
)

// MetricsHandler serves the pre-aggregated metrics contract: error_rate,
// log_volume, top_errors, usage_stats, aggregated_metrics.
type MetricsHandler struct {
	store *query.MetricsStore
}

func NewMetricsHandler(store *query.MetricsStore) *MetricsHandler {
	return &MetricsHandler{store: store}
}

// ErrorRate handles GET /api/v1/metrics/error-rate.
func (h *MetricsHandler) ErrorRate(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())
	points, err := h.store.ErrorRate(r.Context(), projectID)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal("failed to read error_rate"))
		return
	}
	apierr.WriteData(w, http.StatusOK, map[string]interface{}{"series": points})
}

// LogVolume handles GET /api/v1/metrics/log-volume.
func (h *MetricsHandler) LogVolume(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())
	points, err := h.store.LogVolume(r.Context(), projectID)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal("failed to read log_volume"))
		return
	}
	apierr.WriteData(w, http.StatusOK, map[string]interface{}{"series": points})
}

// TopErrors handles GET /api/v1/metrics/top-errors.
func (h *MetricsHandler) TopErrors(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	status := r.URL.Query().Get("status")

	top, err := h.store.TopErrors(r.Context(), projectID, limit, status)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal("failed to read top_errors"))
		return
	}
	apierr.WriteData(w, http.StatusOK, map[string]interface{}{"errors": top})
}

// UsageStats handles GET /api/v1/metrics/usage-stats.
func (h *MetricsHandler) UsageStats(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())
	days, err := h.store.UsageStats(r.Context(), projectID)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal("failed to read usage_stats"))
		return
	}
	apierr.WriteData(w, http.StatusOK, map[string]interface{}{"days": days})
}

// AggregatedMetrics handles GET /api/v1/metrics/aggregated.
func (h *MetricsHandler) AggregatedMetrics(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())
	q := r.URL.Query()

	metricType := q.Get("metric_type")
	if metricType == "" {
		apierr.WriteJSON(w, apierr.Validation("metric_type is required"))
		return
	}

	from, err := parseTime(q.Get("period_from"))
	if err != nil || from.IsZero() {
		apierr.WriteJSON(w, apierr.Validation("invalid period_from"))
		return
	}
	to, err := parseTime(q.Get("period_to"))
	if err != nil || to.IsZero() {
		to = time.Now().UTC()
	}

	filter := query.AggregatedMetricsFilter{
		EndpointMethod: q.Get("endpoint_method"),
		EndpointPath:   q.Get("endpoint_path"),
		LogLevel:       q.Get("log_level"),
		LogType:        q.Get("log_type"),
	}

	rows, err := h.store.AggregatedMetrics(r.Context(), projectID, logmodel.MetricType(metricType), filter, from, to)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal("failed to read aggregated_metrics"))
		return
	}
	apierr.WriteData(w, http.StatusOK, map[string]interface{}{"metrics": rows})
}
