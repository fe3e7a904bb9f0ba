package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/lumenstack/logflow/apierr"
	"github.com/lumenstack/logflow/logmodel"
	"github.com/lumenstack/logflow/query"
	"github.com/lumenstack/logflow/reqctx"
)

// QueryHandler serves the Query & Analytics (C5) read path.
type QueryHandler struct {
	store              *query.Store
	defaultPageSize    int
	maxPageSize        int
}

func NewQueryHandler(store *query.Store, defaultPageSize, maxPageSize int) *QueryHandler {
	if defaultPageSize <= 0 {
		defaultPageSize = query.DefaultLimit
	}
	if maxPageSize <= 0 {
		maxPageSize = query.MaxLimit
	}
	return &QueryHandler{store: store, defaultPageSize: defaultPageSize, maxPageSize: maxPageSize}
}

// GetLog handles GET /api/v1/logs/{id}.
func (h *QueryHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())
	logID := chi.URLParam(r, "id")

	ev, err := h.store.GetLog(r.Context(), projectID, logID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			apierr.WriteJSON(w, apierr.NotFound("log not found"))
			return
		}
		apierr.WriteJSON(w, apierr.Internal("failed to fetch log"))
		return
	}
	apierr.WriteData(w, http.StatusOK, ev)
}

// QueryLogs handles GET /api/v1/logs.
func (h *QueryHandler) QueryLogs(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())

	params, err := h.parseLogsParams(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	result, err := h.store.QueryLogs(r.Context(), projectID, params)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal("failed to query logs"))
		return
	}
	apierr.WriteData(w, http.StatusOK, result)
}

// SearchLogs handles GET /api/v1/logs/search.
func (h *QueryHandler) SearchLogs(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())

	queryText := r.URL.Query().Get("q")
	if queryText == "" {
		apierr.WriteJSON(w, apierr.Validation("q is required"))
		return
	}

	params, err := h.parseLogsParams(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	result, err := h.store.SearchLogs(r.Context(), projectID, queryText, params)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal("failed to search logs"))
		return
	}
	apierr.WriteData(w, http.StatusOK, result)
}

func (h *QueryHandler) parseLogsParams(r *http.Request) (query.LogsParams, *apierr.Error) {
	q := r.URL.Query()

	start, err := parseTime(q.Get("start_time"))
	if err != nil {
		return query.LogsParams{}, apierr.Validation("invalid start_time")
	}
	end, err := parseTime(q.Get("end_time"))
	if err != nil {
		return query.LogsParams{}, apierr.Validation("invalid end_time")
	}
	if start.IsZero() || end.IsZero() {
		return query.LogsParams{}, apierr.Validation("start_time and end_time are required")
	}
	if end.Before(start) {
		return query.LogsParams{}, apierr.Validation("end_time must not precede start_time")
	}

	p := query.LogsParams{
		StartTime:        start,
		EndTime:          end,
		Level:            logmodel.Level(q.Get("level")),
		LogType:          logmodel.LogType(q.Get("log_type")),
		ErrorFingerprint: q.Get("error_fingerprint"),
		Limit:            h.defaultPageSize,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Limit = n
		}
	}
	if p.Limit > h.maxPageSize {
		p.Limit = h.maxPageSize
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Offset = n
		}
	}
	return p, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
