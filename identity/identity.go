// Package identity implements the Identity & Quota Cache (C1): resolving
// a presented credential to a CredentialRecord through a two-tier Redis
// cache backed by the Auth collaborator, with a circuit breaker guarding
// the collaborator call.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/breaker"
	"github.com/lumenstack/logflow/logmodel"
)

// AuthFailureKind classifies why a collaborator call failed, so callers
// can decide whether to retry against the emergency cache or reject
// outright.
type AuthFailureKind int

const (
	// TransientAuth indicates the Auth collaborator is unreachable or
	// erroring. Resolve answers such a failure from the emergency cache
	// only while the Auth breaker is open.
	TransientAuth AuthFailureKind = iota
	// PermanentAuth indicates the credential itself is invalid/revoked —
	// callers must not fall back, and should invalidate any cached entry.
	PermanentAuth
)

// AuthError wraps a collaborator failure with its classification.
type AuthError struct {
	Kind AuthFailureKind
	Err  error
}

func (e *AuthError) Error() string { return e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// AuthBackend resolves a raw credential against the Auth collaborator.
type AuthBackend interface {
	ValidateAPIKey(ctx context.Context, credential string) (logmodel.CredentialRecord, error)
}

const (
	primaryPrefix   = "idcache:primary:"
	emergencyPrefix = "idcache:emergency:"
	tombstoneTTL    = 2 * time.Second
)

var errNegativeCache = errors.New("identity: credential known-invalid (negative cache hit)")

// Cache is the C1 Identity & Quota Cache.
type Cache struct {
	rdb      *redis.Client
	backend  AuthBackend
	breaker  *breaker.Breaker
	logger   zerolog.Logger
	primaryTTL   time.Duration
	emergencyTTL time.Duration

	// inproc absorbs repeat lookups within one instance without a Redis
	// round trip, mirroring the teacher's in-memory auth cache layer.
	inproc sync.Map // hash -> cachedEntry
}

type cachedEntry struct {
	record    logmodel.CredentialRecord
	expiresAt time.Time
	negative  bool
}

// Config configures a new identity Cache.
type Config struct {
	PrimaryTTL   time.Duration
	EmergencyTTL time.Duration
	AuthTimeout  time.Duration
}

// New creates an identity Cache backed by rdb and the given AuthBackend,
// guarded by cb (the Auth breaker).
func New(rdb *redis.Client, backend AuthBackend, cb *breaker.Breaker, logger zerolog.Logger, cfg Config) *Cache {
	if cfg.PrimaryTTL <= 0 {
		cfg.PrimaryTTL = 60 * time.Second
	}
	if cfg.EmergencyTTL <= 0 {
		cfg.EmergencyTTL = 24 * time.Hour
	}
	return &Cache{
		rdb:          rdb,
		backend:      backend,
		breaker:      cb,
		logger:       logger.With().Str("component", "identity_cache").Logger(),
		primaryTTL:   cfg.PrimaryTTL,
		emergencyTTL: cfg.EmergencyTTL,
	}
}

// HashCredential returns the stable cache key for a raw credential. The
// raw value is never logged or stored.
func HashCredential(credential string) string {
	h := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(h[:])
}

// Resolve resolves a raw credential to a CredentialRecord, trying the
// in-process layer, then the primary Redis cache, then the Auth
// collaborator through the breaker, and last (only when that call fails
// with a non-permanent error while the Auth breaker is open) the
// emergency Redis mirror.
func (c *Cache) Resolve(ctx context.Context, credential string) (logmodel.CredentialRecord, error) {
	hash := HashCredential(credential)

	if v, ok := c.inproc.Load(hash); ok {
		entry := v.(cachedEntry)
		if time.Now().Before(entry.expiresAt) {
			if entry.negative {
				return logmodel.CredentialRecord{}, errNegativeCache
			}
			return entry.record, nil
		}
		c.inproc.Delete(hash)
	}

	if rec, err := c.readPrimary(ctx, hash); err == nil {
		c.cacheLocally(hash, rec, c.primaryTTL, false)
		return rec, nil
	}

	rec, err := c.breaker.Execute(func() (interface{}, error) {
		return c.backend.ValidateAPIKey(ctx, credential)
	})
	if err == nil {
		record := rec.(logmodel.CredentialRecord)
		c.writePrimary(ctx, hash, record)
		c.writeEmergency(ctx, hash, record)
		c.cacheLocally(hash, record, c.primaryTTL, false)
		return record, nil
	}

	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Kind == PermanentAuth {
		c.Invalidate(ctx, credential)
		return logmodel.CredentialRecord{}, authErr
	}

	if c.breaker.IsOpen() {
		if rec, emErr := c.readEmergency(ctx, hash); emErr == nil {
			c.logger.Warn().Msg("auth breaker open, served credential from emergency cache")
			return rec, nil
		}
	}

	return logmodel.CredentialRecord{}, fmt.Errorf("identity: resolve failed: %w", err)
}

// Invalidate writes a tombstone for the credential (deleting both cache
// tiers) then sets a brief negative-cache entry so a storm of requests
// against a just-revoked key doesn't immediately re-populate the cache
// from a stale collaborator response race.
func (c *Cache) Invalidate(ctx context.Context, credential string) {
	hash := HashCredential(credential)
	c.rdb.Del(ctx, primaryPrefix+hash, emergencyPrefix+hash)
	c.cacheLocally(hash, logmodel.CredentialRecord{}, tombstoneTTL, true)
}

func (c *Cache) cacheLocally(hash string, rec logmodel.CredentialRecord, ttl time.Duration, negative bool) {
	c.inproc.Store(hash, cachedEntry{record: rec, expiresAt: time.Now().Add(ttl), negative: negative})
}

func (c *Cache) readPrimary(ctx context.Context, hash string) (logmodel.CredentialRecord, error) {
	return c.readTier(ctx, primaryPrefix+hash)
}

func (c *Cache) readEmergency(ctx context.Context, hash string) (logmodel.CredentialRecord, error) {
	return c.readTier(ctx, emergencyPrefix+hash)
}

func (c *Cache) readTier(ctx context.Context, key string) (logmodel.CredentialRecord, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return logmodel.CredentialRecord{}, err
	}
	var rec logmodel.CredentialRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return logmodel.CredentialRecord{}, err
	}
	return rec, nil
}

func (c *Cache) writePrimary(ctx context.Context, hash string, rec logmodel.CredentialRecord) {
	c.writeTier(ctx, primaryPrefix+hash, rec, c.primaryTTL)
}

func (c *Cache) writeEmergency(ctx context.Context, hash string, rec logmodel.CredentialRecord) {
	c.writeTier(ctx, emergencyPrefix+hash, rec, c.emergencyTTL)
}

func (c *Cache) writeTier(ctx context.Context, key string, rec logmodel.CredentialRecord, ttl time.Duration) {
	raw, err := json.Marshal(rec)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal credential record")
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to write cache tier")
	}
}
