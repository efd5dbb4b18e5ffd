// Package publisher orchestrates the draft -> published transition: the
// store flip and the outbox message commit in one transaction, then the
// cache is warmed best-effort.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/freyr/internal/cache"
	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/observability"
	"github.com/rafaeljc/freyr/internal/store"
)

// OutboxTypePublished is the message type emitted when a version goes live.
const OutboxTypePublished = "promotion.version.published"

// Store is the slice of the persistence layer the publisher needs.
type Store interface {
	GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error)
	PublishLatest(ctx context.Context, promotionID uuid.UUID, countryISO string, msgFor store.OutboxMessageFactory) (*domain.PromotionVersion, error)
}

// Result reports a completed publish.
type Result struct {
	PromotionID uuid.UUID
	CountryISO  string
	Version     int
}

// Service publishes promotion versions.
type Service struct {
	store  Store
	cache  cache.Service
	logger *slog.Logger
}

// New creates a publisher Service. Panics on nil dependencies.
func New(s Store, cacheSvc cache.Service, logger *slog.Logger) *Service {
	if s == nil {
		panic("publisher: store cannot be nil")
	}
	if cacheSvc == nil {
		panic("publisher: cache service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{store: s, cache: cacheSvc, logger: logger}
}

// publishedPayload is the outbox event schema for a publish.
type publishedPayload struct {
	PromotionID uuid.UUID `json:"promotionId"`
	CountryISO  string    `json:"countryIso"`
	Version     int       `json:"version"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Publish flips the latest version of (promotion, country) to published and
// warms the cache. Re-publishing an already-published version is a no-op and
// emits no outbox message. Drafts never reach the cache before this call.
//
// A cache warm-up failure does not roll the publish back: the store is
// authoritative and the provider falls back to it until the next warm.
func (s *Service) Publish(ctx context.Context, promotionID uuid.UUID, countryISO string) (*Result, error) {
	now := time.Now()

	country, err := domain.NormalizeCountry(countryISO)
	if err != nil {
		return nil, err
	}

	msgFor := func(v *domain.PromotionVersion) (*domain.OutboxMessage, error) {
		payload, err := json.Marshal(publishedPayload{
			PromotionID: promotionID,
			CountryISO:  country,
			Version:     v.Version,
			PublishedAt: now.UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal publish payload: %w", err)
		}
		return domain.NewOutboxMessage(OutboxTypePublished, payload, now)
	}

	version, err := s.store.PublishLatest(ctx, promotionID, country, msgFor)
	if err != nil {
		return nil, err
	}

	promo, err := s.store.GetPromotion(ctx, promotionID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Warm(ctx, cache.WarmEntry{
		PromotionID: promotionID.String(),
		CountryISO:  country,
		Version:     version.Version,
		Workflow:    version.WorkflowPayload,
		Manifest:    version.ManifestPayload,
		Metadata: map[string]any{
			"name":               promo.Name,
			"timezone":           promo.Timezone,
			"globalCooldownDays": promo.GlobalCooldownDays,
		},
	}); err != nil {
		observability.CacheWarmupsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("cache warm-up failed after publish",
			slog.String("promotion_id", promotionID.String()),
			slog.String("country", country),
			slog.Int("version", version.Version),
			slog.String("error", err.Error()),
		)
	} else {
		observability.CacheWarmupsTotal.WithLabelValues("ok").Inc()
	}

	return &Result{
		PromotionID: promotionID,
		CountryISO:  country,
		Version:     version.Version,
	}, nil
}
