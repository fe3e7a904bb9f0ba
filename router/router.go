// Package router wires the full chi middleware chain and mounts every
// HTTP endpoint this service exposes.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/breaker"
	"github.com/lumenstack/logflow/config"
	"github.com/lumenstack/logflow/handler"
	"github.com/lumenstack/logflow/identity"
	"github.com/lumenstack/logflow/ingest"
	gwmw "github.com/lumenstack/logflow/middleware"
	"github.com/lumenstack/logflow/notifyhub"
	"github.com/lumenstack/logflow/observability"
	"github.com/lumenstack/logflow/query"
	"github.com/lumenstack/logflow/ratelimit"
)

// Dependencies bundles every component the router mounts handlers for.
type Dependencies struct {
	Config        *config.Config
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
	IdentityCache *identity.Cache
	RateLimiter   *ratelimit.Limiter
	AuthBreaker   *breaker.Breaker
	IngestFront   *ingest.Front
	QueryStore    *query.Store
	MetricsStore  *query.MetricsStore
	NotifyHub     *notifyhub.Hub
}

// New returns a configured chi Router with the full middleware chain and
// every API route mounted.
func New(deps Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(gwmw.CORSMiddleware([]string{"*"}))
	r.Use(gwmw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(deps.Logger))
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	// --- Health endpoints (no auth required) ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"logflow"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"logflow"}`))
	})
	r.Get("/dependencies/health", func(w http.ResponseWriter, r *http.Request) {
		state := "unknown"
		if deps.AuthBreaker != nil {
			state = deps.AuthBreaker.State()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"auth_breaker":"` + state + `"}`))
	})

	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.Handler())
	}

	ingestHandler := handler.NewIngestHandler(deps.IngestFront)
	queryHandler := handler.NewQueryHandler(deps.QueryStore, cfg.DefaultPageSize, cfg.MaxPageSize)
	metricsHandler := handler.NewMetricsHandler(deps.MetricsStore)
	notificationsHandler := handler.NewNotificationsHandler(deps.NotifyHub)

	authMW := gwmw.NewAuthMiddleware(deps.IdentityCache, deps.RateLimiter, deps.Metrics, deps.Logger, gwmw.Config{
		HeaderName:         cfg.APIKeyHeader,
		RateLimitEnabled:   cfg.RateLimitEnabled,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitPerHour:   cfg.RateLimitPerHour,
	})
	headerNorm := gwmw.NewHeaderNormalization(deps.Logger)
	timeoutMW := gwmw.NewTimeoutMiddleware(deps.Logger, cfg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(headerNorm.Handler)
		r.Use(timeoutMW.Handler)

		r.Post("/ingest/single", ingestHandler.Single)
		r.Post("/ingest/batch", ingestHandler.Batch)
		r.Get("/queue/depth", ingestHandler.QueueDepth)

		r.Get("/logs", queryHandler.QueryLogs)
		r.Get("/logs/search", queryHandler.SearchLogs)
		r.Get("/logs/{id}", queryHandler.GetLog)

		r.Get("/metrics/error-rate", metricsHandler.ErrorRate)
		r.Get("/metrics/log-volume", metricsHandler.LogVolume)
		r.Get("/metrics/top-errors", metricsHandler.TopErrors)
		r.Get("/metrics/usage-stats", metricsHandler.UsageStats)
		r.Get("/metrics/aggregated", metricsHandler.AggregatedMetrics)

		r.Get("/notifications/stream", notificationsHandler.Stream)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"detail":"request body too large","code":"payload_too_large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
