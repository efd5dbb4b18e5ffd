// Package main initializes and runs the Freyr authoring (control plane)
// service: draft upsert, publish, and version reads.
//
// It acts as the composition root, wiring config, logger, PostgreSQL, Redis,
// the compiler and the publisher, and handling the server lifecycle.
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

	"github.com/rafaeljc/freyr/internal/authoringapi"
	"github.com/rafaeljc/freyr/internal/cache"
	"github.com/rafaeljc/freyr/internal/compiler"
	"github.com/rafaeljc/freyr/internal/config"
	"github.com/rafaeljc/freyr/internal/database"
	"github.com/rafaeljc/freyr/internal/logger"
	"github.com/rafaeljc/freyr/internal/observability"
	"github.com/rafaeljc/freyr/internal/publisher"
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
	comp := compiler.New(promoStore)
	pub := publisher.New(promoStore, promoCache, appLogger)

	skipAuth := cfg.App.Environment != config.EnvironmentProduction && cfg.Server.Authoring.APIKeyHash == ""
	api := authoringapi.NewAPIWithConfig(promoStore, comp, pub, cfg.Server.Authoring.APIKeyHash, skipAuth)

	obs := observability.NewServer(appLogger, &cfg.Observability,
		observability.NewPostgresChecker(pool),
		observability.NewRedisChecker(redisClient),
	)
	obs.Start()

	// -------------------------------------------------------------------------
	// 4. HTTP Server
	// -------------------------------------------------------------------------
	srv := &http.Server{
		Addr:              cfg.Server.Authoring.Host + ":" + cfg.Server.Authoring.Port,
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.Authoring.ReadTimeout,
		WriteTimeout:      cfg.Server.Authoring.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.Authoring.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.Authoring.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.Authoring.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		appLogger.Info("authoring server listening", slog.String("addr", srv.Addr))

		var serveErr error
		if cfg.Server.Authoring.TLSEnabled {
			serveErr = srv.ListenAndServeTLS(cfg.Server.Authoring.TLSCert, cfg.Server.Authoring.TLSKey)
		} else {
			serveErr = srv.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
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
		return fmt.Errorf("authoring server failed: %w", err)
	case <-sigChan:
		appLogger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("authoring server shutdown failed: %w", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("observability server shutdown failed", slog.String("error", err.Error()))
	}

	appLogger.Info("service exited")
	return nil
}
