// Package breaker wraps github.com/sony/gobreaker in a named Breaker
// type guarding this service's external collaborators (currently just
// the Auth service, per the Policy Gate's credential-resolution step).
// There is no registry type; each caller holds its own *Breaker.
package breaker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Breaker wraps a gobreaker.CircuitBreaker with the CLOSED/OPEN/HALF_OPEN
// three-state machine the Policy Gate requires.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// Config tunes when the breaker trips and how long it stays open.
type Config struct {
	Name                string
	FailureCount        int
	FailureRatio        float64
	Cooldown            time.Duration
	HalfOpenMaxRequests uint32
	OnStateChange       func(name string, from, to gobreaker.State)
}

// New creates a Breaker that trips after FailureCount consecutive
// failures, or once at least 20 requests have been counted and their
// failure ratio reaches FailureRatio, whichever comes first. gobreaker's
// Interval is left unset, so the counts cover every request since the
// breaker last entered the closed state; they are not a rolling window.
func New(cfg Config, logger zerolog.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= uint32(cfg.FailureCount) {
				return true
			}
			if counts.Requests >= 20 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs req through the breaker.
func (b *Breaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(req)
}

// IsOpen reports whether the breaker is currently in the open state
// (it returns false while half-open), meaning callers should prefer a
// stale/cached fallback over calling the collaborator directly.
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// State returns the current breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
