// Package main initializes and runs the Freyr runtime (data plane) service:
// event evaluation against the active promotions of a country.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/freyr/internal/cache"
	"github.com/rafaeljc/freyr/internal/config"
	"github.com/rafaeljc/freyr/internal/database"
	"github.com/rafaeljc/freyr/internal/evaluator"
	"github.com/rafaeljc/freyr/internal/grant"
	"github.com/rafaeljc/freyr/internal/logger"
	"github.com/rafaeljc/freyr/internal/observability"
	"github.com/rafaeljc/freyr/internal/provider"
	"github.com/rafaeljc/freyr/internal/ruleengine"
	"github.com/rafaeljc/freyr/internal/runtimeapi"
	"github.com/rafaeljc/freyr/internal/segment"
	"github.com/rafaeljc/freyr/internal/store"
)

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	ctx := context.Background()

	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger := logger.New(&cfg.App)
	slog.SetDefault(appLogger)
	cfg.LogConfig(appLogger)

	// -------------------------------------------------------------------------
	// 2. Infrastructure
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(logger.WithContext(ctx, appLogger), &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	promoCache := cache.NewRedisCache(redisClient, cfg.Redis.DefaultKeyExpiry, cfg.Redis.VerifyWarm)
	defer promoCache.Close()

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	promoStore := store.NewPostgresStore(pool)

	engine, err := ruleengine.New(appLogger, ruleengine.Config{
		RuleTimeout:          cfg.Evaluator.RuleTimeout,
		ProgramCacheCapacity: cfg.Evaluator.WorkflowCacheCapacity,
		ProgramCacheTTL:      cfg.Evaluator.WorkflowCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create rule engine: %w", err)
	}

	var segments segment.Service = segment.Noop{}
	if cfg.Segments.BaseURL != "" {
		segments = segment.NewHTTPService(cfg.Segments.BaseURL, cfg.Segments.Timeout)
	}

	promoProvider := provider.New(promoCache, promoStore, appLogger)
	granter := grant.New(promoStore, appLogger, cfg.Grants.DefaultValueUnit)
	eval := evaluator.New(promoProvider, segments, promoStore, engine, granter, promoCache, appLogger)

	api := runtimeapi.NewAPI(eval, cfg.Server.Runtime.RequestTimeout)

	obs := observability.NewServer(appLogger, &cfg.Observability,
		observability.NewPostgresChecker(pool),
		observability.NewRedisChecker(redisClient),
	)
	obs.Start()

	// -------------------------------------------------------------------------
	// 4. HTTP Server
	// -------------------------------------------------------------------------
	srv := &http.Server{
		Addr:              cfg.Server.Runtime.Host + ":" + cfg.Server.Runtime.Port,
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.Runtime.ReadTimeout,
		WriteTimeout:      cfg.Server.Runtime.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.Runtime.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.Runtime.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		appLogger.Info("runtime server listening", slog.String("addr", srv.Addr))
		if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- serveErr
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("runtime server failed: %w", err)
	case <-sigChan:
		appLogger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("runtime server shutdown failed: %w", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("observability server shutdown failed", slog.String("error", err.Error()))
	}

	appLogger.Info("service exited")
	return nil
}
