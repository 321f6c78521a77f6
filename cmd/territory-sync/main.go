package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/territory-sync/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/territory-sync/internal/adapter/kafka"
	"github.com/couchcryptid/territory-sync/internal/adapter/mapbox"
	"github.com/couchcryptid/territory-sync/internal/adapter/postgres"
	"github.com/couchcryptid/territory-sync/internal/adapter/rediscache"
	"github.com/couchcryptid/territory-sync/internal/backoff"
	"github.com/couchcryptid/territory-sync/internal/config"
	"github.com/couchcryptid/territory-sync/internal/consistency"
	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/geocode"
	"github.com/couchcryptid/territory-sync/internal/observability"
	"github.com/couchcryptid/territory-sync/internal/pipeline"
	"github.com/couchcryptid/territory-sync/internal/territory"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, clock, logger, metrics); err != nil {
		logger.Error("territory sync failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) error {
	defs, err := territory.LoadFile(cfg.TerritoryFile)
	if err != nil {
		return err
	}
	idx, err := territory.Load(defs)
	if err != nil {
		return err
	}
	resolver := territory.NewResolver(idx, logger, metrics)
	logger.Info("territories loaded", "file", cfg.TerritoryFile, "count", len(idx.AllTerritoryNames()))

	db, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	store := postgres.New(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	storeOpts := consistency.StoreOptions{
		Timeout: cfg.StoreTimeout,
		Retry:   backoff.Policy{Base: 250 * time.Millisecond, Max: 5 * time.Second, MaxRetries: cfg.StoreMaxRetries},
	}
	validator := consistency.NewValidator(store, resolver, storeOpts, clock, logger, metrics)

	deps := pipeline.Deps{
		Store:     store,
		Pinger:    store,
		Validator: validator,
		Repairer:  consistency.NewRepairer(store, validator, resolver, storeOpts, clock, logger, metrics),
	}

	// Geocoding is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	if cfg.GeocodeConfigured() {
		var geocoder domain.Geocoder = mapbox.NewCachedGeocoder(
			mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics),
			cfg.MapboxCacheSize, metrics,
		)
		if rdb := rediscache.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); rdb != nil {
			defer rdb.Close()
			geocoder = rediscache.New(geocoder, rdb, cfg.RedisTTL, logger, metrics)
			logger.Info("redis geocode cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.RedisTTL)
		}
		limited := geocode.NewRateLimited(geocoder, cfg.GeocodeRate, cfg.GeocodeBurst)
		policy := backoff.Policy{Base: cfg.GeocodeBackoff, Max: cfg.GeocodeBackoffMax, MaxRetries: cfg.GeocodeMaxRetries}
		orch := geocode.NewOrchestrator(limited, policy, clock, logger, metrics)
		deps.Geocodes = geocode.NewPool(orch, geocode.DefaultVariants, cfg.GeocodeWorkers)
		logger.Info("mapbox geocoding enabled",
			"workers", cfg.GeocodeWorkers,
			"rate", cfg.GeocodeRate,
			"cache_size", cfg.MapboxCacheSize,
			"timeout", cfg.MapboxTimeout,
		)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		deps.Publisher = writer
	}

	p := pipeline.New(deps, pipeline.Options{
		PageSize: cfg.PageSize,
		Interval: cfg.RunInterval,
		Repair:   cfg.RepairEnabled,
		Output:   os.Stdout,
		Store:    storeOpts,
	}, clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		logger.Info("shutdown complete")
	}()

	return p.Run(ctx)
}
