// Package evaluator implements the runtime evaluation state machine. For one
// (contact, event, country) request it walks the active promotions through
// the segment gate, the event idempotency gate and the per-tier cooldown and
// prerequisite checks, executes the compiled rules, selects rewards and
// persists grants.
package evaluator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/freyr/internal/cache"
	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/grant"
	"github.com/rafaeljc/freyr/internal/provider"
	"github.com/rafaeljc/freyr/internal/ruleengine"
	"github.com/rafaeljc/freyr/internal/segment"
)

// EventIDField is the event-context field carrying the idempotency key.
const EventIDField = "eventId"

// Request is one inbound evaluation.
type Request struct {
	ContactID    string
	CountryISO   string
	AsOfUTC      time.Time
	EventContext map[string]any
}

// Result is one awarded (promotion, tier, group).
type Result struct {
	PromotionID       uuid.UUID
	Version           int
	CountryISO        string
	AwardedTier       int
	ExpressionGroupID uuid.UUID
	RewardIDs         []uuid.UUID
}

// Store is the slice of the persistence layer the evaluator reads.
type Store interface {
	TiersForPromotion(ctx context.Context, promotionID uuid.UUID) ([]*domain.RuleTier, error)
	GroupsForTier(ctx context.Context, tierID uuid.UUID) ([]*domain.RuleExpressionGroup, error)
	GlobalRewards(ctx context.Context, promotionID uuid.UUID) ([]*domain.Reward, error)
	GroupRewards(ctx context.Context, groupID uuid.UUID) ([]*domain.Reward, error)
	LastGranted(ctx context.Context, contactID string, promotionID uuid.UUID) (*domain.ContactReward, error)
	LastGrantedForTier(ctx context.Context, contactID string, promotionID uuid.UUID, tierLevel int) (*domain.ContactReward, error)
	HasGrantedForEvent(ctx context.Context, contactID string, promotionID uuid.UUID, sourceEventID string) (bool, error)
}

// Provider resolves the active promotions for a country at a point in time.
type Provider interface {
	Active(ctx context.Context, countryISO string, t time.Time) ([]provider.ActivePromotion, error)
}

// Engine executes one named workflow rule.
type Engine interface {
	Evaluate(ctx context.Context, workflow *ruleengine.Workflow, ruleName string, evalCtx map[string]any) (bool, error)
}

// Granter persists the rewards of a fired group.
type Granter interface {
	Grant(ctx context.Context, req grant.Request) ([]uuid.UUID, error)
}

// Warmer re-warms the cache after a grant. Failures are non-fatal.
type Warmer interface {
	Warm(ctx context.Context, entry cache.WarmEntry) error
}

// Evaluator is the evaluation state machine.
type Evaluator struct {
	provider Provider
	segments segment.Service
	store    Store
	engine   Engine
	granter  Granter
	warmer   Warmer
	logger   *slog.Logger
}

// New creates an Evaluator. The warmer may be nil (no re-warm after grants);
// every other dependency is required.
func New(p Provider, segments segment.Service, s Store, engine Engine, granter Granter, warmer Warmer, logger *slog.Logger) *Evaluator {
	if p == nil {
		panic("evaluator: provider cannot be nil")
	}
	if segments == nil {
		panic("evaluator: segment service cannot be nil")
	}
	if s == nil {
		panic("evaluator: store cannot be nil")
	}
	if engine == nil {
		panic("evaluator: engine cannot be nil")
	}
	if granter == nil {
		panic("evaluator: granter cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Evaluator{
		provider: p,
		segments: segments,
		store:    s,
		engine:   engine,
		granter:  granter,
		warmer:   warmer,
		logger:   logger,
	}
}

// Evaluate runs the state machine for one request. Promotions are processed
// in provider order; a store or cache error on one promotion skips it and the
// rest continue, so the returned slice may be a partial result. Cancellation
// aborts between promotions with whatever accumulated so far.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) ([]Result, error) {
	asOf := req.AsOfUTC.UTC()
	log := e.logger.With(
		slog.String("contact_id", req.ContactID),
		slog.String("country", req.CountryISO),
	)

	promotions, err := e.provider.Active(ctx, req.CountryISO, asOf)
	if err != nil {
		// Both the cache and the store path failed; nothing to evaluate.
		log.Error("failed to resolve active promotions", slog.String("error", err.Error()))
		return []Result{}, nil
	}

	contactSegments, err := e.segments.SegmentsForContact(ctx, req.ContactID, req.CountryISO)
	if err != nil {
		// A failed lookup degrades to "no segments": gated promotions skip.
		log.Warn("segment lookup failed, treating contact as unsegmented", slog.String("error", err.Error()))
		contactSegments = nil
	}

	eventID, _ := req.EventContext[EventIDField].(string)
	evalCtx := buildEvalContext(req.EventContext)

	results := make([]Result, 0, 1)

	for _, promo := range promotions {
		if ctx.Err() != nil {
			// Cancelled: return what we have. Unfinished grants were never
			// started, finished ones are already committed.
			return results, ctx.Err()
		}

		promoResults, exclusive := e.evaluatePromotion(ctx, log, promo, req.ContactID, eventID, asOf, contactSegments, evalCtx)
		results = append(results, promoResults...)

		if len(promoResults) > 0 && exclusive {
			// One promotion fired and the manifest says the event is
			// exclusive: stop walking promotions.
			break
		}
	}

	return results, nil
}

// evaluatePromotion runs one promotion through the gates and the tier walk.
// It returns the awarded results and the promotion's exclusivity flag.
func (e *Evaluator) evaluatePromotion(ctx context.Context, log *slog.Logger, promo provider.ActivePromotion, contactID, eventID string, asOf time.Time, contactSegments []string, evalCtx map[string]any) ([]Result, bool) {
	promoLog := log.With(
		slog.String("promotion_id", promo.Promotion.ID.String()),
		slog.Int("version", promo.Version),
	)

	// Exclusivity defaults to true when the manifest is unparseable.
	exclusive := true
	globalCooldownDays := promo.Promotion.GlobalCooldownDays
	if promo.Manifest != nil {
		exclusive = promo.Manifest.Policies.ExclusivePerEvent
		globalCooldownDays = promo.Manifest.Policies.GlobalCooldownDays
	}

	// Segment gate. A missing or empty requirement admits everyone.
	if promo.Manifest != nil && len(promo.Manifest.Segments) > 0 {
		if !intersects(contactSegments, promo.Manifest.Segments) {
			promoLog.Debug("segment gate closed")
			return nil, exclusive
		}
	}

	// Event idempotency gate.
	if eventID != "" {
		granted, err := e.store.HasGrantedForEvent(ctx, contactID, promo.Promotion.ID, eventID)
		if err != nil {
			promoLog.Error("idempotency probe failed, skipping promotion", slog.String("error", err.Error()))
			return nil, exclusive
		}
		if granted {
			promoLog.Debug("event already granted, skipping promotion", slog.String("event_id", eventID))
			return nil, exclusive
		}
	}

	// Tier-1 cooldown from the last grant of any tier.
	lastGranted, err := e.store.LastGranted(ctx, contactID, promo.Promotion.ID)
	if err != nil {
		promoLog.Error("cooldown lookup failed, skipping promotion", slog.String("error", err.Error()))
		return nil, exclusive
	}
	canTier1 := lastGranted == nil || !cooldownActive(lastGranted.GrantedAt, globalCooldownDays, asOf)

	tiers, err := e.store.TiersForPromotion(ctx, promo.Promotion.ID)
	if err != nil {
		promoLog.Error("tier lookup failed, skipping promotion", slog.String("error", err.Error()))
		return nil, exclusive
	}

	var results []Result

	for _, tier := range tiers {
		if tier.TierLevel == 1 && !canTier1 {
			continue
		}

		if tier.TierLevel > 1 {
			prev, err := e.store.LastGrantedForTier(ctx, contactID, promo.Promotion.ID, tier.TierLevel-1)
			if err != nil {
				promoLog.Error("prior-tier lookup failed, skipping tier",
					slog.Int("tier_level", tier.TierLevel),
					slog.String("error", err.Error()),
				)
				continue
			}
			if prev == nil {
				// The prior tier must be earned first.
				continue
			}
			if tier.CooldownDays != nil && cooldownActive(prev.GrantedAt, *tier.CooldownDays, asOf) {
				continue
			}
		}

		result, fired := e.evaluateTier(ctx, promoLog, promo, tier, contactID, eventID, asOf, globalCooldownDays, evalCtx)
		if !fired {
			continue
		}
		results = append(results, result)

		if exclusive {
			break
		}
	}

	return results, exclusive
}

// evaluateTier walks the tier's groups in order; at most one group fires.
func (e *Evaluator) evaluateTier(ctx context.Context, log *slog.Logger, promo provider.ActivePromotion, tier *domain.RuleTier, contactID, eventID string, asOf time.Time, globalCooldownDays int, evalCtx map[string]any) (Result, bool) {
	groups, err := e.store.GroupsForTier(ctx, tier.ID)
	if err != nil {
		log.Error("group lookup failed, skipping tier",
			slog.Int("tier_level", tier.TierLevel),
			slog.String("error", err.Error()),
		)
		return Result{}, false
	}

	for _, group := range groups {
		ruleName := ruleengine.RuleName(tier.TierLevel, group.Order)

		match, err := e.engine.Evaluate(ctx, promo.Workflow, ruleName, evalCtx)
		if err != nil {
			// Rule errors (including timeouts) read as false.
			log.Warn("rule evaluation failed, treating as non-matching",
				slog.String("rule", ruleName),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !match {
			continue
		}

		rewardIDs, err := e.selectRewards(ctx, promo.Promotion.ID, group.ID)
		if err != nil {
			log.Error("reward selection failed, skipping group",
				slog.String("rule", ruleName),
				slog.String("error", err.Error()),
			)
			continue
		}

		_, err = e.granter.Grant(ctx, grant.Request{
			ContactID:          contactID,
			PromotionID:        promo.Promotion.ID,
			Version:            promo.Version,
			CountryISO:         promo.CountryISO,
			TierLevel:          tier.TierLevel,
			GroupID:            group.ID,
			RewardIDs:          rewardIDs,
			SourceEventID:      eventID,
			GrantedAt:          asOf,
			TierCooldownDays:   tier.CooldownDays,
			GlobalCooldownDays: globalCooldownDays,
		})
		if err != nil {
			log.Error("grant failed, skipping group",
				slog.String("rule", ruleName),
				slog.String("error", err.Error()),
			)
			continue
		}

		e.rewarm(ctx, log, promo)

		return Result{
			PromotionID:       promo.Promotion.ID,
			Version:           promo.Version,
			CountryISO:        promo.CountryISO,
			AwardedTier:       tier.TierLevel,
			ExpressionGroupID: group.ID,
			RewardIDs:         rewardIDs,
		}, true
	}

	return Result{}, false
}

// selectRewards applies the override rule: group rewards when present,
// otherwise the promotion's global pool.
func (e *Evaluator) selectRewards(ctx context.Context, promotionID, groupID uuid.UUID) ([]uuid.UUID, error) {
	rewards, err := e.store.GroupRewards(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(rewards) == 0 {
		rewards, err = e.store.GlobalRewards(ctx, promotionID)
		if err != nil {
			return nil, err
		}
	}

	ids := make([]uuid.UUID, len(rewards))
	for i, r := range rewards {
		ids[i] = r.ID
	}
	return ids, nil
}

// rewarm refreshes the cache after a grant, best-effort.
func (e *Evaluator) rewarm(ctx context.Context, log *slog.Logger, promo provider.ActivePromotion) {
	if e.warmer == nil {
		return
	}

	err := e.warmer.Warm(ctx, cache.WarmEntry{
		PromotionID: promo.Promotion.ID.String(),
		CountryISO:  promo.CountryISO,
		Version:     promo.Version,
		Workflow:    promo.RawWorkflow,
		Manifest:    promo.RawManifest,
		Metadata: map[string]any{
			"name":               promo.Promotion.Name,
			"timezone":           promo.Promotion.Timezone,
			"globalCooldownDays": promo.Promotion.GlobalCooldownDays,
		},
	})
	if err != nil {
		log.Warn("post-grant cache warm failed", slog.String("error", err.Error()))
	}
}

// cooldownActive reports whether grantedAt + days is still in the future.
func cooldownActive(grantedAt time.Time, days int, asOf time.Time) bool {
	if days <= 0 {
		return false
	}
	return grantedAt.Add(time.Duration(days) * 24 * time.Hour).After(asOf)
}

// intersects reports whether the two string sets share a member.
func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}

// buildEvalContext shapes the event payload for the rule engine: RFC 3339
// strings become timestamps so date comparisons work, everything else passes
// through.
func buildEvalContext(event map[string]any) map[string]any {
	evalCtx := make(map[string]any, len(event))
	for k, v := range event {
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				evalCtx[k] = t
				continue
			}
		}
		evalCtx[k] = v
	}
	return evalCtx
}
