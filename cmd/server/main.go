package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/aqi-forecast/internal/adapter/cache"
	httpadapter "github.com/couchcryptid/aqi-forecast/internal/adapter/http"
	"github.com/couchcryptid/aqi-forecast/internal/adapter/modelserver"
	"github.com/couchcryptid/aqi-forecast/internal/config"
	"github.com/couchcryptid/aqi-forecast/internal/forecast"
	"github.com/couchcryptid/aqi-forecast/internal/observability"
	"github.com/couchcryptid/aqi-forecast/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	features, closeFeatures, err := store.OpenFeatureStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open feature store", "store", cfg.FeatureStore, "error", err)
		os.Exit(1)
	}

	loader := forecast.NewArtifactLoader(cfg.ModelPath, features,
		modelserver.Factory(cfg.ModelTimeout, logger, metrics), logger)
	holder := forecast.NewHolder(loader, logger, metrics)

	// A failed initial load leaves the service up but not ready; the next
	// scheduled reload may recover it.
	if err := holder.Reload(ctx); err != nil {
		logger.Error("initial snapshot load failed", "model", cfg.ModelPath, "error", err)
	}
	if cfg.ReloadSchedule != "" {
		if err := holder.Schedule(ctx, cfg.ReloadSchedule); err != nil {
			logger.Error("failed to schedule snapshot reload", "error", err)
			os.Exit(1)
		}
	}

	svc := forecast.NewService(holder, logger, metrics)

	// Initialize forecast cache (Redis when REDIS_ADDR is set, otherwise an
	// in-process LRU unless CACHE_SIZE is 0).
	var forecaster httpadapter.Forecaster = svc
	var redisCache *cache.Redis
	var ready sharedobs.ReadinessChecker = holder
	switch {
	case cfg.RedisAddr != "":
		redisCache, err = cache.DialRedis(ctx, cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		forecaster = cache.NewCachedPredictor(svc, redisCache, logger, metrics)
		ready = httpadapter.AllReady(holder, redisCache)
		logger.Info("forecast cache enabled", "backend", "redis", "ttl", cfg.CacheTTL)
	case cfg.CacheSize > 0:
		forecaster = cache.NewCachedPredictor(svc, cache.NewLRU(cfg.CacheSize), logger, metrics)
		logger.Info("forecast cache enabled", "backend", "lru", "size", cfg.CacheSize)
	default:
		logger.Info("forecast cache disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, forecaster, ready, cfg.DefaultRiskGroup, logger)

	// Start HTTP server.
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}
	if err := closeFeatures(); err != nil {
		logger.Error("feature store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
