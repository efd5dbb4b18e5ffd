// Package provider implements the unified read path for active promotions:
// cache-first with a store fallback. The evaluator is its only consumer.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/freyr/internal/cache"
	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/observability"
	"github.com/rafaeljc/freyr/internal/ruleengine"
	"github.com/rafaeljc/freyr/internal/store"
)

// ActivePromotion is a fully reconstituted (promotion, version) pair ready
// for evaluation. Manifest is nil when the payload failed to parse; the
// evaluator applies its lenient defaults in that case.
type ActivePromotion struct {
	Promotion  domain.Promotion
	Version    int
	CountryISO string
	Workflow   *ruleengine.Workflow
	Manifest   *ruleengine.Manifest

	// Raw payloads are kept so the evaluator can re-warm the cache after a
	// grant without re-marshalling.
	RawWorkflow []byte
	RawManifest []byte
}

// PromotionReader is the slice of the store the provider needs.
type PromotionReader interface {
	GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error)
	ActiveVersions(ctx context.Context, countryISO string, t time.Time) ([]store.ActiveVersion, error)
}

// Provider resolves the active (promotion, version) pairs for (country, t).
type Provider struct {
	cache  cache.Service
	store  PromotionReader
	logger *slog.Logger
}

// New creates a Provider. Panics on nil dependencies; a nil logger defaults
// to slog.Default().
func New(cacheSvc cache.Service, promotionStore PromotionReader, logger *slog.Logger) *Provider {
	if cacheSvc == nil {
		panic("provider: cache service cannot be nil")
	}
	if promotionStore == nil {
		panic("provider: promotion store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{cache: cacheSvc, store: promotionStore, logger: logger}
}

// Active returns the promotions evaluable in a country at time t, ordered by
// promotion id. The cache path and the store path apply the same window
// filter, so the result is deterministic for a given (country, t, store
// state, cache state).
func (p *Provider) Active(ctx context.Context, countryISO string, t time.Time) ([]ActivePromotion, error) {
	result, err := p.fromCache(ctx, countryISO, t)
	if err != nil {
		p.logger.Warn("cache read failed, falling back to store",
			slog.String("country", countryISO),
			slog.String("error", err.Error()),
		)
		observability.CacheFallbacksTotal.Inc()
		return p.fromStore(ctx, countryISO, t)
	}
	if len(result) == 0 {
		// An empty active set is indistinguishable from a cold cache;
		// the store decides.
		observability.CacheFallbacksTotal.Inc()
		return p.fromStore(ctx, countryISO, t)
	}

	return result, nil
}

// fromCache reconstitutes the active set from the warmed keys. Any cache
// error aborts the whole path so a partially warmed cache can never hide
// promotions the store knows about.
func (p *Provider) fromCache(ctx context.Context, countryISO string, t time.Time) ([]ActivePromotion, error) {
	ids, err := p.cache.ActivePromotions(ctx, countryISO)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	// Promotion metadata is fetched from the store once per id within this
	// request.
	metadata := make(map[string]*domain.Promotion, len(ids))

	result := make([]ActivePromotion, 0, len(ids))
	for _, id := range ids {
		version, err := p.cache.LatestVersion(ctx, countryISO, id)
		if err != nil {
			return nil, err
		}

		rawWorkflow, err := p.cache.GetWorkflow(ctx, countryISO, id, version)
		if err != nil {
			return nil, err
		}
		rawManifest, err := p.cache.GetManifest(ctx, countryISO, id, version)
		if err != nil {
			return nil, err
		}

		manifest, err := ruleengine.ParseManifest(rawManifest)
		if err != nil {
			p.logger.Warn("manifest payload unparseable, evaluation defaults apply",
				slog.String("promotion_id", id),
				slog.String("error", err.Error()),
			)
			manifest = nil
		}

		// Window filter: a promotion outside its manifest window is dropped.
		// A missing bound (or an unparseable manifest) is open.
		if manifest != nil && !manifest.Window.ActiveAt(t) {
			continue
		}

		workflow, err := ruleengine.ParseWorkflow(rawWorkflow)
		if err != nil {
			p.logger.Error("workflow payload unparseable, skipping promotion",
				slog.String("promotion_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}

		promo, err := p.promotionMetadata(ctx, metadata, id)
		if err != nil {
			// A store error on one promotion skips it, the rest proceed.
			p.logger.Error("failed to load promotion metadata, skipping promotion",
				slog.String("promotion_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}

		result = append(result, ActivePromotion{
			Promotion:   *promo,
			Version:     version,
			CountryISO:  strings.ToUpper(countryISO),
			Workflow:    workflow,
			Manifest:    manifest,
			RawWorkflow: rawWorkflow,
			RawManifest: rawManifest,
		})
	}

	return result, nil
}

func (p *Provider) promotionMetadata(ctx context.Context, memo map[string]*domain.Promotion, id string) (*domain.Promotion, error) {
	if promo, ok := memo[id]; ok {
		return promo, nil
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid promotion id %q in cache: %w", id, err)
	}

	promo, err := p.store.GetPromotion(ctx, parsed)
	if err != nil {
		return nil, err
	}

	memo[id] = promo
	return promo, nil
}

// fromStore serves the active set from the authoritative query. The window
// filter runs in SQL; payloads still need parsing.
func (p *Provider) fromStore(ctx context.Context, countryISO string, t time.Time) ([]ActivePromotion, error) {
	versions, err := p.store.ActiveVersions(ctx, countryISO, t)
	if err != nil {
		return nil, fmt.Errorf("failed to load active promotions from store: %w", err)
	}

	result := make([]ActivePromotion, 0, len(versions))
	for _, av := range versions {
		workflow, err := ruleengine.ParseWorkflow(av.Version.WorkflowPayload)
		if err != nil {
			p.logger.Error("stored workflow payload unparseable, skipping promotion",
				slog.String("promotion_id", av.Promotion.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		manifest, err := ruleengine.ParseManifest(av.Version.ManifestPayload)
		if err != nil {
			p.logger.Warn("stored manifest payload unparseable, evaluation defaults apply",
				slog.String("promotion_id", av.Promotion.ID.String()),
				slog.String("error", err.Error()),
			)
			manifest = nil
		}

		result = append(result, ActivePromotion{
			Promotion:   av.Promotion,
			Version:     av.Version.Version,
			CountryISO:  av.Version.CountryISO,
			Workflow:    workflow,
			Manifest:    manifest,
			RawWorkflow: av.Version.WorkflowPayload,
			RawManifest: av.Version.ManifestPayload,
		})
	}

	return result, nil
}
