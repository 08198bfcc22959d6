package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/neexbeast/culturalcompass/internal/api"
	"github.com/neexbeast/culturalcompass/internal/cache"
	"github.com/neexbeast/culturalcompass/internal/config"
	"github.com/neexbeast/culturalcompass/internal/connectivity"
	"github.com/neexbeast/culturalcompass/internal/discovery"
	"github.com/neexbeast/culturalcompass/internal/places"
	"github.com/neexbeast/culturalcompass/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", "err", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// Connect to PostgreSQL.
	pool, err := storage.Connect(ctx, cfg.Database.URL, storage.PoolOptions{MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := storage.RunMigrations(ctx, pool, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("migrations applied", "dir", cfg.Database.MigrationsDir)

	// Connect to Redis.
	redisClient, err := cache.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	// Wire dependencies.
	repo := storage.NewRepository(pool)
	offline := cache.NewCache(redisClient, cfg.Redis.CacheTTL)

	placesOpts := places.Options{
		Timeout:           cfg.Places.Timeout,
		RequestsPerSecond: cfg.Places.RequestsPerSecond,
		Burst:             cfg.Places.Burst,
	}
	var client *places.Client
	if cfg.Places.BaseURL != "" {
		client = places.NewClientWithURL(cfg.Places.BaseURL, cfg.Places.APIKey, placesOpts, log)
	} else {
		client = places.NewClient(cfg.Places.APIKey, placesOpts, log)
	}
	monitor := connectivity.NewMonitor(client, connectivity.Settings{
		Name:                "places",
		ConsecutiveFailures: cfg.Places.BreakerFailures,
		OpenTimeout:         cfg.Places.BreakerOpenTimeout,
	}, log)

	sessionCfg := discovery.SessionConfig{
		RefetchThresholdMeters: cfg.Discovery.RefetchThresholdMeters,
		RadiusMeters:           cfg.Discovery.RadiusMeters,
		MaxResults:             cfg.Discovery.MaxResults,
		FetchTimeout:           cfg.Discovery.FetchTimeout,
		Scorer:                 &discovery.Scorer{DistancePenaltyPerKm: cfg.Discovery.DistancePenaltyPerKm},
	}
	deps := discovery.Dependencies{
		Provider:  monitor,
		Cache:     offline,
		Favorites: repo,
		Oracle:    monitor,
		Log:       log,
	}
	registry := api.NewRegistry(func(userID string, state discovery.FetchState) *discovery.Session {
		c := sessionCfg
		c.UserID = userID
		return discovery.NewSession(c, state, deps)
	}, log)
	defer registry.CloseAll()

	handlers := api.NewHandlers(registry, repo, log)
	router := api.NewRouter(handlers, api.RouterOptions{
		Token:              cfg.Server.BearerToken,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		Health: []api.HealthCheck{
			{Name: "db", Pinger: pool, Critical: true},
			{Name: "redis", Pinger: offline, Critical: true},
			{Name: "places", Pinger: monitor},
		},
	}, log)

	// No WriteTimeout: snapshot streams are long-lived websockets.
	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("server goroutine panicked", "recover", r)
				errCh <- fmt.Errorf("server panicked: %v", r)
			}
		}()
		log.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listening: %w", err)
		}
	}()

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Closing sessions first ends their websocket streams, which Shutdown does not track.
	log.Info("closing discovery sessions", "count", registry.Len())
	registry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("server shut down cleanly")
	return nil
}
