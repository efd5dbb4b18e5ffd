// Package outbox implements the background worker that drains the
// transactional outbox to the downstream bus. Delivery is at-least-once: a
// message is marked processed only after the bus accepts it, so a crash
// between the two re-delivers on the next sweep.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"

	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/observability"
	"github.com/rafaeljc/freyr/internal/store"
)

// Bus hands messages to the external broker. Implementations must be safe
// for redelivery of the same message id.
type Bus interface {
	Publish(ctx context.Context, msg *domain.OutboxMessage) error
}

// LogBus is the default bus: it logs each message instead of delivering it.
// Used in environments without a broker wired.
type LogBus struct {
	Logger *slog.Logger
}

// Publish logs the message.
func (b *LogBus) Publish(_ context.Context, msg *domain.OutboxMessage) error {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("outbox message delivered to log bus",
		slog.String("message_id", msg.ID.String()),
		slog.String("type", msg.Type),
	)
	return nil
}

// Config holds the configuration for the sweeper.
type Config struct {
	// Interval is the duration between sweep cycles.
	Interval time.Duration

	// BatchSize caps how many messages one cycle drains.
	BatchSize int

	// RetryMin and RetryMax bound the exponential backoff applied after a
	// failed cycle. The sweeper retries indefinitely.
	RetryMin time.Duration
	RetryMax time.Duration
}

// Sweeper drains the outbox table. It is designed to run as a single owner;
// deploy one replica (or guard with a lease) to keep delivery ordered.
type Sweeper struct {
	logger *slog.Logger
	config Config
	repo   store.OutboxRepository
	bus    Bus
}

// New creates a Sweeper.
func New(logger *slog.Logger, cfg Config, repo store.OutboxRepository, bus Bus) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if repo == nil {
		panic("outbox: repository cannot be nil")
	}
	if bus == nil {
		panic("outbox: bus cannot be nil")
	}

	if cfg.Interval < time.Second {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = time.Second
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = 2 * time.Minute
	}

	return &Sweeper{
		logger: logger,
		config: cfg,
		repo:   repo,
		bus:    bus,
	}
}

// Run starts the sweep loop. It blocks until the context is cancelled.
// Failed cycles back off exponentially and never stop the worker.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("starting outbox sweeper",
		slog.String("interval", s.config.Interval.String()),
		slog.Int("batch_size", s.config.BatchSize),
	)

	retry := &backoff.Backoff{
		Min:    s.config.RetryMin,
		Max:    s.config.RetryMax,
		Factor: 2,
		Jitter: true,
	}

	timer := time.NewTimer(0) // first sweep runs immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("outbox sweeper stopping...")
			return nil
		case <-timer.C:
			if err := s.sweep(ctx); err != nil {
				wait := retry.Duration()
				observability.OutboxSweepFailuresTotal.Inc()
				s.logger.Error("sweep cycle failed",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", wait),
				)
				timer.Reset(wait)
				continue
			}
			retry.Reset()
			timer.Reset(s.config.Interval)
		}
	}
}

// sweep drains one batch. A delivery failure on one message aborts the cycle
// so occurrence order is preserved across retries.
func (s *Sweeper) sweep(ctx context.Context) error {
	start := time.Now()

	batch, err := s.repo.PendingBatch(ctx, s.config.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	delivered := 0
	var sweepErr error
	for _, msg := range batch {
		if err := s.bus.Publish(ctx, msg); err != nil {
			sweepErr = fmt.Errorf("bus rejected message %s: %w", msg.ID, err)
			break
		}

		if err := s.repo.MarkProcessed(ctx, msg.ID, time.Now()); err != nil {
			// The message was delivered but not stamped: it will be
			// redelivered next cycle, which the bus contract allows.
			sweepErr = fmt.Errorf("failed to mark message %s processed: %w", msg.ID, err)
			break
		}
		delivered++
		observability.OutboxDeliveredTotal.Inc()
	}

	s.logger.Info("sweep cycle completed",
		slog.Int("pending", len(batch)),
		slog.Int("delivered", delivered),
		slog.String("duration", time.Since(start).String()),
	)

	return sweepErr
}
