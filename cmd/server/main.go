package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/deskchat/internal/api"
	"github.com/eldtechnologies/deskchat/internal/api/middleware"
	"github.com/eldtechnologies/deskchat/internal/broker"
	"github.com/eldtechnologies/deskchat/internal/config"
	"github.com/eldtechnologies/deskchat/internal/handlers"
	"github.com/eldtechnologies/deskchat/internal/store"
	"github.com/eldtechnologies/deskchat/internal/tracing"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize logger
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, "deskchat", version, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	// Redis holds presence, rooms and sessions
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	archive, err := openArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	opts := []broker.Option{}
	if archive != nil {
		opts = append(opts, broker.WithArchive(archive))
	}
	b := broker.New(redisStore, logger, opts...)

	// Rooms outlive the process, so pick up their listeners again
	if _, err := b.Resume(ctx); err != nil {
		return err
	}

	router := api.NewRouter(logger, api.Deps{
		Broker:  b,
		Redis:   redisStore,
		Archive: archive,
		Handler: handlers.Options{
			SessionTTL:    cfg.SessionTTL,
			SecureCookies: !cfg.IsDevelopment(),
		},
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		CORSOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Bool("archive", archive != nil).
			Msg("starting deskchat server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info().Msg("shutting down server...")

		// Graceful shutdown with 30 second timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server forced to shutdown")
		}
		// Listeners go last so messages sent before shutdown are persisted.
		return b.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// openArchive connects the transcript archive. PostgreSQL wins over SQLite;
// with neither configured the archive is disabled and nil is returned.
func openArchive(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.TranscriptStore, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to PostgreSQL archive")
		return pg, nil
	case cfg.SQLitePath != "":
		lite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite archive")
		return lite, nil
	default:
		logger.Info().Msg("transcript archive disabled")
		return nil, nil
	}
}
