package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/apierr"
	"github.com/lumenstack/logflow/identity"
	"github.com/lumenstack/logflow/observability"
	"github.com/lumenstack/logflow/ratelimit"
	"github.com/lumenstack/logflow/reqctx"
)

// AuthMiddleware resolves the presented credential through the
// Identity & Quota Cache, enforces the dual rate-limit ceilings, and
// attaches the resolved CredentialRecord to the request context for
// every downstream handler.
type AuthMiddleware struct {
	cache        *identity.Cache
	limiter      *ratelimit.Limiter
	metrics      *observability.Metrics
	logger       zerolog.Logger
	headerName   string
	rateLimitOn  bool
	perMinute    int
	perHour      int
}

// Config configures AuthMiddleware.
type Config struct {
	HeaderName         string
	RateLimitEnabled   bool
	RateLimitPerMinute int
	RateLimitPerHour   int
}

func NewAuthMiddleware(cache *identity.Cache, limiter *ratelimit.Limiter, metrics *observability.Metrics, logger zerolog.Logger, cfg Config) *AuthMiddleware {
	return &AuthMiddleware{
		cache:       cache,
		limiter:     limiter,
		metrics:     metrics,
		logger:      logger.With().Str("component", "auth_middleware").Logger(),
		headerName:  cfg.HeaderName,
		rateLimitOn: cfg.RateLimitEnabled,
		perMinute:   cfg.RateLimitPerMinute,
		perHour:     cfg.RateLimitPerHour,
	}
}

func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := r.Header.Get(a.headerName)
		if credential == "" {
			apierr.WriteJSON(w, apierr.Unauthorized("missing credential"))
			return
		}

		rec, err := a.cache.Resolve(r.Context(), credential)
		if err != nil {
			a.writeResolveError(w, err)
			return
		}
		if !rec.Active {
			apierr.WriteJSON(w, apierr.Forbidden("credential is not active"))
			return
		}

		if a.rateLimitOn {
			key := identity.HashCredential(credential)
			minuteLimit := a.perMinute
			if rec.RatePerMinute > 0 {
				minuteLimit = rec.RatePerMinute
			}
			hourLimit := a.perHour
			if rec.RatePerHour > 0 {
				hourLimit = rec.RatePerHour
			}

			minuteDecision := a.limiter.CheckMinute(r.Context(), key, minuteLimit)
			if !minuteDecision.Allowed {
				a.rejectRateLimited(w, "minute", minuteDecision)
				return
			}
			hourDecision := a.limiter.CheckHour(r.Context(), key, hourLimit)
			if !hourDecision.Allowed {
				a.rejectRateLimited(w, "hour", hourDecision)
				return
			}
			writeRateLimitHeaders(w, minuteDecision)
		}

		ctx := reqctx.WithCredential(r.Context(), rec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthMiddleware) rejectRateLimited(w http.ResponseWriter, window string, d ratelimit.Decision) {
	if a.metrics != nil {
		a.metrics.RateLimitRejections.WithLabelValues(window).Inc()
	}
	writeRateLimitHeaders(w, d)
	retryAfter := int(time.Until(d.ResetAt).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	apierr.WriteJSON(w, apierr.RateLimited("rate limit exceeded for "+window+" window", retryAfter))
}

// writeRateLimitHeaders surfaces the ceiling, remaining budget, and
// reset time of a rate-limit decision on both successful and rejected
// responses, per the Policy Gate's header contract.
func writeRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func (a *AuthMiddleware) writeResolveError(w http.ResponseWriter, err error) {
	var authErr *identity.AuthError
	if errors.As(err, &authErr) {
		switch authErr.Kind {
		case identity.PermanentAuth:
			apierr.WriteJSON(w, apierr.Unauthorized("invalid credential"))
		default:
			apierr.WriteJSON(w, apierr.CircuitOpen("auth collaborator unavailable"))
		}
		return
	}
	apierr.WriteJSON(w, apierr.CircuitOpen("unable to resolve credential"))
}
