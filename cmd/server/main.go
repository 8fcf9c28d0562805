package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crm_backend/internal/config"
	"crm_backend/internal/fallback"
	"crm_backend/internal/httpapi"
	"crm_backend/internal/logging"
	"crm_backend/internal/metrics"
	"crm_backend/internal/models"
	"crm_backend/internal/providers"
	"crm_backend/internal/queue"
	"crm_backend/internal/ratelimit"
	"crm_backend/internal/registry"
	"crm_backend/internal/storage"
	"crm_backend/internal/usage"
	"crm_backend/internal/vault"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "failed to load config")
	}

	logger := logging.Init(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := vault.Load(ctx, vault.KeySource{
		HexKey:    cfg.Vault.EncryptionKey,
		SecretARN: cfg.Vault.SecretARN,
		Region:    cfg.Vault.AWSRegion,
	})
	if err != nil {
		return eris.Wrap(err, "failed to initialize key vault")
	}

	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	healthChecks := map[string]httpapi.HealthCheck{"database": db.Health}

	queueCfg := cfg.Usage.QueueConfig()

	var (
		usageQueue queue.Queue[models.UsageEvent]
		usageDLQ   queue.DeadLetterQueue[models.UsageEvent]
		guard      ratelimit.Guard
	)
	if cfg.Redis.Enabled() {
		rc, err := storage.NewRedisClient(ctx, cfg.Redis.ClientConfig())
		if err != nil {
			return err
		}
		defer rc.Close()

		usageQueue = queue.NewRedisQueue[models.UsageEvent](rc, queueCfg)
		usageDLQ = queue.NewRedisDeadLetterQueue[models.UsageEvent](rc, queueCfg)
		guard = ratelimit.NewRedisGuard(rc)
		healthChecks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	} else {
		logger.Warn("REDIS_ADDRESS not set, using in-memory usage queue and rate limits")
		usageQueue = queue.NewMemoryQueue[models.UsageEvent](queueCfg)
		usageDLQ = queue.NewMemoryDeadLetterQueue[models.UsageEvent]()
		guard = ratelimit.NewMemoryGuard()
	}
	defer usageQueue.Close()

	prom := metrics.NewPrometheus()

	reg := registry.New(db.NewProviderRepository(), v, registry.Config{
		CacheSize: cfg.Provider.CacheSize,
		CacheTTL:  cfg.Provider.CacheTTL,
	}, logger)

	adapters := providers.NewSet(providers.Options{
		Timeout:   cfg.Provider.RequestTimeout,
		MaxTokens: cfg.Provider.MaxTokens,
		BaseURLs:  cfg.Provider.BaseURLs,
		Models:    cfg.Provider.Models,
	})

	tracker := usage.NewTracker(usageQueue, logger)
	orchestrator := fallback.New(fallback.Dependencies{
		Providers: reg,
		Vault:     v,
		Adapters:  adapters,
		Usage:     tracker,
		Metrics:   prom,
		Logger:    logger,
	})

	worker := usage.NewWorker(usageQueue, usageDLQ, db.NewUsageRepository(), queueCfg, logger)
	// The worker outlives the signal so Stop can flush queued events.
	worker.Start(context.WithoutCancel(ctx))

	handler := httpapi.NewRouter(&httpapi.Dependencies{
		Organizations:  db.NewOrganizationRepository(),
		AI:             orchestrator,
		Providers:      reg,
		Guard:          guard,
		Metrics:        prom,
		MetricsHandler: prom.Handler(),
		HealthChecks:   healthChecks,
		SessionSecret:  cfg.Session.JWTSecret,
		CORSOrigins:    cfg.CORSOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// A full sweep may wait on every provider in turn.
		WriteTimeout: cfg.Provider.RequestTimeout*time.Duration(len(models.SupportedProviderTypes)) + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("CRM backend listening",
			zap.String("addr", server.Addr),
			zap.Strings("providers", providerNames(adapters)),
			zap.Bool("redis", cfg.Redis.Enabled()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server error")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		tracker.Wait()
		if stopErr := worker.Stop(); stopErr != nil {
			logger.Error("Usage worker stop failed", zap.Error(stopErr))
		}
		if err != nil {
			return eris.Wrap(err, "server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}

func providerNames(s *providers.Set) []string {
	types := s.Types()
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
