package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/api"
	"github.com/paylane/dealflow/internal/api/middleware"
	"github.com/paylane/dealflow/internal/config"
	"github.com/paylane/dealflow/internal/db"
	"github.com/paylane/dealflow/internal/gateway"
	"github.com/paylane/dealflow/internal/idempotency"
	"github.com/paylane/dealflow/internal/observability"
	"github.com/paylane/dealflow/internal/ratecache"
	"github.com/paylane/dealflow/internal/repository"
	"github.com/paylane/dealflow/internal/service"
	"github.com/paylane/dealflow/internal/worker"
)

// Run bootstraps the HTTP server and background workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := repository.NewStore(pool)
	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	rateCache := ratecache.NewRedisCache(redisClient, cfg.RateCacheTTL)

	var rateFeed gateway.RateFeed
	if cfg.RateFeedURL != "" {
		rateFeed = gateway.NewHTTPRateFeed(cfg.RateFeedURL)
	} else {
		logger.Warn("no rate feed configured, using fallback rate only")
		rateFeed = &gateway.StaticRateFeed{}
	}

	rates := service.NewRateResolver(store, rateFeed, rateCache, cfg.FallbackRate, cfg.RateFeedTimeout)
	fees := service.NewFeeResolver(cfg.DefaultFeeInPercent, cfg.DefaultFeeOutPercent)
	stats := service.NewStats(store)
	callbacks := service.NewCallbackSender(10 * time.Second)
	ledger := service.NewLedger(store, fees, stats, callbacks)
	disputes := service.NewDisputes(store, ledger, callbacks)
	partnerCallbacks := service.NewPartnerCallbacks(store, ledger)
	dealRouter := service.NewRouter(store, rates, fees, stats, gateway.NewHTTPAggregatorClient(), service.RouterConfig{
		MinDepositMicros:   cfg.MinDepositMicros,
		MinInsuranceMicros: cfg.MinInsuranceMicros,
		DealTTL:            cfg.DealTTL,
		DefaultSLA:         cfg.DefaultSLA,
		CallbackBaseURL:    cfg.CallbackBaseURL,
	})

	expiryWorker := worker.NewExpiryWorker(store, ledger).
		WithInterval(cfg.ExpirySweepInterval)
	stopExpiry := expiryWorker.Run(ctx)

	stopRates := func() {}
	if cfg.RateFeedURL != "" {
		rateWorker := worker.NewRateWorker(rateFeed, rateCache, cfg.RateRefreshCurrencies).
			WithInterval(cfg.RateRefreshInterval)
		stopRates = rateWorker.Run(ctx)
	}

	router := api.NewRouter(cfg, logger, pool, redisClient, idemStore, api.Services{
		Store:     store,
		Router:    dealRouter,
		Disputes:  disputes,
		Stats:     stats,
		Callbacks: partnerCallbacks,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopExpiry()
	stopRates()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
