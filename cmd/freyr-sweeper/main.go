// Package main runs the Freyr outbox sweeper: a single-owner worker that
// drains the transactional outbox to the downstream bus at-least-once.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/freyr/internal/config"
	"github.com/rafaeljc/freyr/internal/database"
	"github.com/rafaeljc/freyr/internal/logger"
	"github.com/rafaeljc/freyr/internal/observability"
	"github.com/rafaeljc/freyr/internal/outbox"
	"github.com/rafaeljc/freyr/internal/store"
)

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the worker lifecycle.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger := logger.New(&cfg.App)
	slog.SetDefault(appLogger)

	if !cfg.Sweeper.Enabled {
		appLogger.Info("sweeper disabled by configuration, exiting")
		return nil
	}

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	obs := observability.NewServer(appLogger, &cfg.Observability,
		observability.NewPostgresChecker(pool),
	)
	obs.Start()

	sweeper := outbox.New(appLogger, outbox.Config{
		Interval:  cfg.Sweeper.Interval,
		BatchSize: cfg.Sweeper.BatchSize,
		RetryMin:  cfg.Sweeper.RetryMin,
		RetryMax:  cfg.Sweeper.RetryMax,
	}, store.NewPostgresStore(pool), &outbox.LogBus{Logger: appLogger})

	// Run blocks until the context is cancelled by a shutdown signal.
	if err := sweeper.Run(ctx); err != nil {
		return fmt.Errorf("sweeper failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("observability server shutdown failed", slog.String("error", err.Error()))
	}

	appLogger.Info("worker exited")
	return nil
}
