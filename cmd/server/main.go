package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/api"
	"github.com/eldtechnologies/courier/internal/api/middleware"
	"github.com/eldtechnologies/courier/internal/auth"
	"github.com/eldtechnologies/courier/internal/config"
	"github.com/eldtechnologies/courier/internal/gateway"
	"github.com/eldtechnologies/courier/internal/handlers"
	"github.com/eldtechnologies/courier/internal/hub"
	"github.com/eldtechnologies/courier/internal/messaging"
	"github.com/eldtechnologies/courier/internal/store"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	ds, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set; rate limiting disabled")
	}

	registry := hub.New()
	verifier := auth.NewVerifier(cfg.JWTSecret, ds)

	var pipelineOpts []messaging.Option
	if redisStore != nil {
		pipelineOpts = append(pipelineOpts, messaging.WithThrottle(
			messaging.NewRedisThrottle(redisStore, cfg.SendRateLimit, cfg.SendRateWindow),
		))
	}
	pipeline := messaging.NewPipeline(ds, registry, logger, pipelineOpts...)

	gwOpts := gateway.DefaultOptions()
	gwOpts.OriginPatterns = gateway.OriginHosts(cfg.AllowedOrigins)
	gw := gateway.NewServer(verifier, registry, pipeline, gwOpts, logger)

	router := api.NewRouter(api.Deps{
		Logger:   logger,
		Store:    ds,
		Redis:    redisStore,
		Registry: registry,
		Verifier: verifier,
		Gateway:  gw,
		Uploads: handlers.UploadConfig{
			Dir:      cfg.UploadDir,
			MaxBytes: cfg.MaxUploadBytes,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// No read/write timeouts: they would cut long-lived websocket connections.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting courier server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Hijacked websocket connections are not tracked by Shutdown.
	registry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// the embedded SQLite store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.DataStore, func()) {
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
		return pg, pg.Close
	}

	sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("sqlite open failed")
	}
	logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
	return sq, sq.Close
}
