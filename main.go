package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/lumenstack/logflow/analyticsjob"
	"github.com/lumenstack/logflow/breaker"
	"github.com/lumenstack/logflow/config"
	"github.com/lumenstack/logflow/identity"
	"github.com/lumenstack/logflow/ingest"
	"github.com/lumenstack/logflow/logger"
	"github.com/lumenstack/logflow/notifyhub"
	"github.com/lumenstack/logflow/observability"
	"github.com/lumenstack/logflow/query"
	"github.com/lumenstack/logflow/ratelimit"
	"github.com/lumenstack/logflow/redisclient"
	"github.com/lumenstack/logflow/router"
	"github.com/lumenstack/logflow/storage"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("logflow starting")

	metrics := observability.NewMetrics()

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	if err := rc.Ping(); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed")
	}
	log.Info().Msg("redis connected")

	ctx := context.Background()
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid DATABASE_URL")
	}
	poolCfg.MaxConns = 30
	poolCfg.MinConns = 5
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool init failed")
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping failed")
	}
	log.Info().Msg("postgres connected")

	if err := storage.EnsureSchemas(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("schema bootstrap failed")
	}

	authBreaker := breaker.New(breaker.Config{
		Name:                "auth",
		FailureCount:        cfg.BreakerFailureCount,
		FailureRatio:        cfg.BreakerFailureRatio,
		Cooldown:            cfg.BreakerCooldown,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerStateChanges.WithLabelValues(name, to.String()).Inc()
		},
	}, log)

	authBackend := identity.NewHTTPAuthBackend(cfg.AuthServiceURL, cfg.APIKeyHeader, 5*time.Second)
	identityCache := identity.New(rc.Raw, authBackend, authBreaker, log, identity.Config{
		PrimaryTTL:   cfg.IdentityPrimaryTTL,
		EmergencyTTL: cfg.IdentityEmergencyTTL,
	})

	limiter := ratelimit.New(rc.Raw, log)
	go limiter.Cleanup(ctx, 5*time.Minute)

	notifyHub := notifyhub.New(rc.Raw, log, metrics, cfg.NotificationChanBuf)

	ingestFront := ingest.New(rc.Raw, log, metrics, cfg.QueueDepthCeiling, cfg.MaxAttributeBytes)

	partitions := storage.NewPartitionManager(pool, log, cfg.RetentionMonths)
	partitions.Start(cfg.PartitionLifecycleInterval)

	errGroups := storage.NewErrorGroupStore(pool)
	deadLetter := storage.NewLogDeadLetterSink(log)

	worker := storage.New(pool, rc.Raw, partitions, errGroups, deadLetter, metrics, log, storage.Config{
		BatchSize:     cfg.FlushBatchSize,
		FlushInterval: cfg.FlushInterval,
		DBConnsBudget: 20,
	})
	worker.Start()

	scheduler := analyticsjob.New(pool, rc.Raw, log, analyticsjob.Cadences{
		ErrorRate:         cfg.ErrorRateCadence,
		LogVolume:         cfg.LogVolumeCadence,
		TopErrors:         cfg.TopErrorsCadence,
		UsageStats:        cfg.UsageStatsCadence,
		AggregatedMetrics: cfg.AggregatedMetricsCadence,
	})
	scheduler.Start()

	queryStore := query.NewStore(pool)
	metricsStore := query.NewMetricsStore(rc.Raw, pool)

	r := router.New(router.Dependencies{
		Config:        cfg,
		Logger:        log,
		Metrics:       metrics,
		IdentityCache: identityCache,
		RateLimiter:   limiter,
		AuthBreaker:   authBreaker,
		IngestFront:   ingestFront,
		QueryStore:    queryStore,
		MetricsStore:  metricsStore,
		NotifyHub:     notifyHub,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("logflow listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	scheduler.Stop()
	worker.Stop()
	partitions.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("logflow stopped gracefully")
	}

	pool.Close()
	rc.Close()
}
