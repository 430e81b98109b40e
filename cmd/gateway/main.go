package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/api"
	"github.com/redgarden/venue-workers/internal/app"
	"github.com/redgarden/venue-workers/internal/config"
	"github.com/redgarden/venue-workers/internal/db"
	"github.com/redgarden/venue-workers/internal/observ"
	"github.com/redgarden/venue-workers/internal/redis"
	"github.com/redgarden/venue-workers/internal/sqs"
)

// enqueueRateLimit caps public notification enqueues per client IP.
const enqueueRateLimit = 20

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnvFile(os.Getenv("CONFIG_ENV")); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateGateway(); err != nil {
		return err
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "gateway")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting venue gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("datastore", cfg.DatastoreDriver),
	)

	ctx := context.Background()

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	repo := db.NewRepository(store, logger)

	// Rate limiting is skipped without Redis
	var limiter api.Limiter
	if redisClient := app.OpenRedis(ctx, cfg, logger); redisClient != nil {
		defer redisClient.Close()
		limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  enqueueRateLimit,
			Window: time.Minute,
		})
	}

	var trigger api.Trigger
	if cfg.TriggerQueueURL != "" {
		producer, err := sqs.NewProducer(ctx, sqs.Config{Region: cfg.AWSRegion, QueueURL: cfg.TriggerQueueURL}, logger)
		if err != nil {
			logger.Warn("trigger queue unavailable, /v1/dispatch disabled", zap.Error(err))
		} else {
			trigger = producer
		}
	}

	handler := api.NewHandler(logger, repo, trigger, cfg.VAPIDPublicKey)
	router := api.NewRouter(handler, api.RouterConfig{
		JWTSecret: cfg.SupabaseJWTSecret,
		Limiter:   limiter,
		RateLimit: enqueueRateLimit,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
