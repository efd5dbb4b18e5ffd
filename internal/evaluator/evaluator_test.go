package evaluator

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/freyr/internal/cache"
	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/grant"
	"github.com/rafaeljc/freyr/internal/provider"
	"github.com/rafaeljc/freyr/internal/ruleengine"
)

// world is an in-memory backing store shared by the evaluator and the grant
// service in these tests. It implements evaluator.Store and grant.Store.
type world struct {
	tiers         map[uuid.UUID][]*domain.RuleTier
	groups        map[uuid.UUID][]*domain.RuleExpressionGroup
	globalRewards map[uuid.UUID][]*domain.Reward
	groupRewards  map[uuid.UUID][]*domain.Reward
	grants        []*domain.ContactReward

	failTiers bool
}

func newWorld() *world {
	return &world{
		tiers:         make(map[uuid.UUID][]*domain.RuleTier),
		groups:        make(map[uuid.UUID][]*domain.RuleExpressionGroup),
		globalRewards: make(map[uuid.UUID][]*domain.Reward),
		groupRewards:  make(map[uuid.UUID][]*domain.Reward),
	}
}

func (w *world) TiersForPromotion(_ context.Context, promotionID uuid.UUID) ([]*domain.RuleTier, error) {
	if w.failTiers {
		return nil, fmt.Errorf("store unavailable")
	}
	return w.tiers[promotionID], nil
}

func (w *world) GroupsForTier(_ context.Context, tierID uuid.UUID) ([]*domain.RuleExpressionGroup, error) {
	return w.groups[tierID], nil
}

func (w *world) GlobalRewards(_ context.Context, promotionID uuid.UUID) ([]*domain.Reward, error) {
	return w.globalRewards[promotionID], nil
}

func (w *world) GroupRewards(_ context.Context, groupID uuid.UUID) ([]*domain.Reward, error) {
	return w.groupRewards[groupID], nil
}

func (w *world) LastGranted(_ context.Context, contactID string, promotionID uuid.UUID) (*domain.ContactReward, error) {
	var last *domain.ContactReward
	for _, g := range w.grants {
		if g.ContactID == contactID && g.PromotionID == promotionID && g.Status == domain.GrantStatusGranted {
			if last == nil || g.GrantedAt.After(last.GrantedAt) {
				last = g
			}
		}
	}
	return last, nil
}

func (w *world) LastGrantedForTier(_ context.Context, contactID string, promotionID uuid.UUID, tierLevel int) (*domain.ContactReward, error) {
	var last *domain.ContactReward
	for _, g := range w.grants {
		if g.ContactID == contactID && g.PromotionID == promotionID && g.TierLevel == tierLevel && g.Status == domain.GrantStatusGranted {
			if last == nil || g.GrantedAt.After(last.GrantedAt) {
				last = g
			}
		}
	}
	return last, nil
}

func (w *world) HasGrantedForEvent(_ context.Context, contactID string, promotionID uuid.UUID, eventID string) (bool, error) {
	for _, g := range w.grants {
		if g.ContactID == contactID && g.PromotionID == promotionID && g.SourceEventID == eventID && g.Status == domain.GrantStatusGranted {
			return true, nil
		}
	}
	return false, nil
}

func (w *world) InsertGrants(_ context.Context, grants []*domain.ContactReward, _ *domain.OutboxMessage) error {
	w.grants = append(w.grants, grants...)
	return nil
}

// markGranted simulates the downstream system flipping grants to Granted.
func (w *world) markGranted(t *testing.T) {
	t.Helper()
	for _, g := range w.grants {
		if g.Status == domain.GrantStatusPending {
			require.NoError(t, g.Transition(domain.GrantStatusGranted))
		}
	}
}

// fakeProvider serves a fixed active set.
type fakeProvider struct {
	promotions []provider.ActivePromotion
}

func (f *fakeProvider) Active(context.Context, string, time.Time) ([]provider.ActivePromotion, error) {
	return f.promotions, nil
}

// fakeSegments serves a fixed segment set.
type fakeSegments struct {
	segments []string
}

func (f *fakeSegments) SegmentsForContact(context.Context, string, string) ([]string, error) {
	return f.segments, nil
}

// fakeWarmer records warm-up calls.
type fakeWarmer struct {
	entries []cache.WarmEntry
}

func (f *fakeWarmer) Warm(_ context.Context, entry cache.WarmEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

// promoSpec declares one promotion for the fixture builder.
type promoSpec struct {
	name               string
	exclusive          bool
	globalCooldownDays int
	segments           []string
	// tiers: level -> (cooldownDays pointer, group expressions in order)
	tiers []tierSpec
}

type tierSpec struct {
	level        int
	cooldownDays *int
	expressions  []string
}

type fixture struct {
	world    *world
	provider *fakeProvider
	warmer   *fakeWarmer
	segments *fakeSegments
	eval     *Evaluator

	promoIDs []uuid.UUID
	groupIDs map[uuid.UUID][]uuid.UUID // promotion -> group ids in tier walk order
	rewards  map[uuid.UUID][]uuid.UUID // promotion -> global reward ids
}

func build(t *testing.T, specs ...promoSpec) *fixture {
	t.Helper()

	w := newWorld()
	fp := &fakeProvider{}
	fw := &fakeWarmer{}
	fs := &fakeSegments{}

	f := &fixture{
		world:    w,
		provider: fp,
		warmer:   fw,
		segments: fs,
		groupIDs: make(map[uuid.UUID][]uuid.UUID),
		rewards:  make(map[uuid.UUID][]uuid.UUID),
	}

	for _, spec := range specs {
		promo, err := domain.NewPromotion(spec.name, "UTC", spec.globalCooldownDays, time.Now())
		require.NoError(t, err)

		reward, err := domain.NewReward(spec.name+" reward", domain.RewardKindPoints, domain.ZeroMonetaryValue("points"), time.Now())
		require.NoError(t, err)
		w.globalRewards[promo.ID] = []*domain.Reward{reward}
		f.rewards[promo.ID] = []uuid.UUID{reward.ID}

		wf := &ruleengine.Workflow{WorkflowName: ruleengine.WorkflowName(promo.ID.String(), "ES")}

		for _, ts := range spec.tiers {
			tier, err := domain.NewRuleTier(promo.ID, ts.level, 0, ts.cooldownDays)
			require.NoError(t, err)
			w.tiers[promo.ID] = append(w.tiers[promo.ID], tier)

			for ord, expr := range ts.expressions {
				group, err := domain.NewRuleExpressionGroup(promo.ID, tier.ID, ord, nil)
				require.NoError(t, err)
				w.groups[tier.ID] = append(w.groups[tier.ID], group)
				f.groupIDs[promo.ID] = append(f.groupIDs[promo.ID], group.ID)

				wf.Rules = append(wf.Rules, ruleengine.Rule{
					RuleName:           ruleengine.RuleName(ts.level, ord),
					SuccessEvent:       ruleengine.SuccessEvent(ts.level, ord),
					RuleExpressionType: ruleengine.RuleExpressionTypeLambda,
					Expression:         expr,
				})
			}
		}

		manifest := &ruleengine.Manifest{
			Policies: ruleengine.ManifestPolicies{
				GlobalCooldownDays: spec.globalCooldownDays,
				ExclusivePerEvent:  spec.exclusive,
				Country:            "ES",
			},
			Segments: spec.segments,
		}
		rawWF, err := wf.Marshal()
		require.NoError(t, err)
		rawMF, err := manifest.Marshal()
		require.NoError(t, err)

		fp.promotions = append(fp.promotions, provider.ActivePromotion{
			Promotion:   *promo,
			Version:     1,
			CountryISO:  "ES",
			Workflow:    wf,
			Manifest:    manifest,
			RawWorkflow: rawWF,
			RawManifest: rawMF,
		})
		f.promoIDs = append(f.promoIDs, promo.ID)
	}

	// Provider order is promotion-id order.
	sort.Slice(fp.promotions, func(i, j int) bool {
		return fp.promotions[i].Promotion.ID.String() < fp.promotions[j].Promotion.ID.String()
	})

	engine, err := ruleengine.New(nil, ruleengine.Config{RuleTimeout: 200 * time.Millisecond})
	require.NoError(t, err)

	granter := grant.New(w, nil, "points")
	f.eval = New(fp, fs, w, engine, granter, fw, nil)

	return f
}

func evalRequest(eventID string, gasto float64) Request {
	return Request{
		ContactID:  "C",
		CountryISO: "ES",
		AsOfUTC:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EventContext: map[string]any{
			"gasto":   gasto,
			"club":    "",
			"esVip":   false,
			"eventId": eventID,
		},
	}
}

func TestEvaluate_SimpleTierOneGrant(t *testing.T) {
	t.Parallel()

	f := build(t, promoSpec{
		name:      "P1",
		exclusive: true,
		tiers:     []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}},
	})

	results, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 60))

	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, f.promoIDs[0], r.PromotionID)
	assert.Equal(t, 1, r.Version)
	assert.Equal(t, "ES", r.CountryISO)
	assert.Equal(t, 1, r.AwardedTier)
	assert.Equal(t, f.groupIDs[f.promoIDs[0]][0], r.ExpressionGroupID)
	assert.Equal(t, f.rewards[f.promoIDs[0]], r.RewardIDs)

	require.Len(t, f.world.grants, 1)
	g := f.world.grants[0]
	assert.Equal(t, domain.GrantStatusPending, g.Status)
	assert.Nil(t, g.CooldownUntil, "global cooldown 0 writes no cooldown")
	assert.Equal(t, "e1", g.SourceEventID)

	require.Len(t, f.warmer.entries, 1, "a grant re-warms the cache")
}

func TestEvaluate_RuleMismatchGrantsNothing(t *testing.T) {
	t.Parallel()

	f := build(t, promoSpec{
		name:      "P1",
		exclusive: true,
		tiers:     []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}},
	})

	results, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 40))

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, f.world.grants)
}

func TestEvaluate_EventIdempotency(t *testing.T) {
	t.Parallel()

	f := build(t, promoSpec{
		name:      "P1",
		exclusive: true,
		tiers:     []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}},
	})

	// First evaluation grants; the downstream flips it to Granted.
	_, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 60))
	require.NoError(t, err)
	f.world.markGranted(t)

	// Same event id again: the promotion is skipped entirely.
	results, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 60))

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Len(t, f.world.grants, 1, "no second grant for the same event")
}

func TestEvaluate_TierOneCooldownBlocksRefire(t *testing.T) {
	t.Parallel()

	f := build(t, promoSpec{
		name:               "P1",
		exclusive:          true,
		globalCooldownDays: 7,
		tiers:              []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}},
	})

	grantedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.eval.Evaluate(context.Background(), Request{
		ContactID:    "C",
		CountryISO:   "ES",
		AsOfUTC:      grantedAt,
		EventContext: map[string]any{"gasto": 60.0, "eventId": "e1"},
	})
	require.NoError(t, err)
	f.world.markGranted(t)

	// Day 5: inside the 7-day window.
	blocked, err := f.eval.Evaluate(context.Background(), Request{
		ContactID:    "C",
		CountryISO:   "ES",
		AsOfUTC:      grantedAt.Add(4 * 24 * time.Hour),
		EventContext: map[string]any{"gasto": 60.0, "eventId": "e2"},
	})
	require.NoError(t, err)
	assert.Empty(t, blocked)

	// One second past the window: fires again.
	refire, err := f.eval.Evaluate(context.Background(), Request{
		ContactID:    "C",
		CountryISO:   "ES",
		AsOfUTC:      grantedAt.Add(7*24*time.Hour + time.Second),
		EventContext: map[string]any{"gasto": 60.0, "eventId": "e3"},
	})
	require.NoError(t, err)
	assert.Len(t, refire, 1)
}

func TestEvaluate_TierTwoRequiresPriorGrantAndTierCooldown(t *testing.T) {
	t.Parallel()

	tierTwoCooldown := 3
	f := build(t, promoSpec{
		name:               "P1",
		exclusive:          true,
		globalCooldownDays: 7,
		tiers: []tierSpec{
			{level: 1, expressions: []string{`ctx.gasto > 50.0`}},
			{level: 2, cooldownDays: &tierTwoCooldown, expressions: []string{`ctx.gasto > 50.0`}},
		},
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// First pass: only tier 1 fires, tier 2 has no prior grant.
	results, err := f.eval.Evaluate(context.Background(), Request{
		ContactID:    "C",
		CountryISO:   "ES",
		AsOfUTC:      start,
		EventContext: map[string]any{"gasto": 60.0, "eventId": "e1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].AwardedTier)
	f.world.markGranted(t)

	// Four days later: tier 1 is held by the 7-day global cooldown while
	// tier 2's prerequisite (a tier-1 grant) and its 3-day cooldown are
	// satisfied, so the walk lands on tier 2.
	results, err = f.eval.Evaluate(context.Background(), Request{
		ContactID:    "C",
		CountryISO:   "ES",
		AsOfUTC:      start.Add(4 * 24 * time.Hour),
		EventContext: map[string]any{"gasto": 60.0, "eventId": "e2"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].AwardedTier)
}

func TestEvaluate_TierTwoCooldownGatesOnPriorTierGrant(t *testing.T) {
	t.Parallel()

	tierTwoCooldown := 3
	f := build(t, promoSpec{
		name:      "P1",
		exclusive: true,
		tiers: []tierSpec{
			// Tier 1 only matches large events, tier 2 all of them: the walk
			// can reach tier 2 while tier 1 stays quiet.
			{level: 1, expressions: []string{`ctx.gasto > 1000.0`}},
			{level: 2, cooldownDays: &tierTwoCooldown, expressions: []string{`ctx.gasto > 50.0`}},
		},
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// No tier-1 grant exists: tier 2 is unreachable.
	results, err := f.eval.Evaluate(context.Background(), Request{
		ContactID:    "C",
		CountryISO:   "ES",
		AsOfUTC:      start,
		EventContext: map[string]any{"gasto": 60.0, "eventId": "e1"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	// Earn tier 1.
	results, err = f.eval.Evaluate(context.Background(), Request{
		ContactID:    "C",
		CountryISO:   "ES",
		AsOfUTC:      start,
		EventContext: map[string]any{"gasto": 2000.0, "eventId": "e2"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].AwardedTier)
	f.world.markGranted(t)

	// Two days later: prior grant exists but the 3-day tier cooldown blocks.
	results, err = f.eval.Evaluate(context.Background(), Request{
		ContactID:    "C",
		CountryISO:   "ES",
		AsOfUTC:      start.Add(2 * 24 * time.Hour),
		EventContext: map[string]any{"gasto": 60.0, "eventId": "e3"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	// Four days later: tier 2 fires.
	results, err = f.eval.Evaluate(context.Background(), Request{
		ContactID:    "C",
		CountryISO:   "ES",
		AsOfUTC:      start.Add(4 * 24 * time.Hour),
		EventContext: map[string]any{"gasto": 60.0, "eventId": "e4"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].AwardedTier)
}

func TestEvaluate_ExclusivePerEventAcrossPromotions(t *testing.T) {
	t.Parallel()

	f := build(t,
		promoSpec{name: "P1", exclusive: true, tiers: []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}}},
		promoSpec{name: "P2", exclusive: true, tiers: []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}}},
	)

	results, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 60))

	require.NoError(t, err)
	require.Len(t, results, 1, "only the first promotion in provider order fires")
	assert.Equal(t, f.provider.promotions[0].Promotion.ID, results[0].PromotionID)
}

func TestEvaluate_NonExclusiveFiresAllPromotions(t *testing.T) {
	t.Parallel()

	f := build(t,
		promoSpec{name: "P1", exclusive: false, tiers: []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}}},
		promoSpec{name: "P2", exclusive: false, tiers: []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}}},
	)

	results, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 60))

	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEvaluate_SegmentGate(t *testing.T) {
	t.Parallel()

	f := build(t, promoSpec{
		name:      "P1",
		exclusive: true,
		segments:  []string{"vip"},
		tiers:     []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}},
	})

	// Contact is not in the required segment.
	f.segments.segments = []string{"regular"}
	results, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 60))
	require.NoError(t, err)
	assert.Empty(t, results)

	// Contact joins the segment: evaluation proceeds normally.
	f.segments.segments = []string{"vip", "regular"}
	results, err = f.eval.Evaluate(context.Background(), evalRequest("e2", 60))
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestEvaluate_AtMostOneGroupPerTier(t *testing.T) {
	t.Parallel()

	f := build(t, promoSpec{
		name:      "P1",
		exclusive: true,
		tiers: []tierSpec{{
			level: 1,
			// Both groups match; only the first in order may fire.
			expressions: []string{`ctx.gasto > 50.0`, `ctx.gasto > 10.0`},
		}},
	})

	results, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 60))

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, f.groupIDs[f.promoIDs[0]][0], results[0].ExpressionGroupID)
	assert.Len(t, f.world.grants, 1)
}

func TestEvaluate_GroupFallsThroughToNextOnMismatch(t *testing.T) {
	t.Parallel()

	f := build(t, promoSpec{
		name:      "P1",
		exclusive: true,
		tiers: []tierSpec{{
			level:       1,
			expressions: []string{`ctx.gasto > 1000.0`, `ctx.gasto > 10.0`},
		}},
	})

	results, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 60))

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, f.groupIDs[f.promoIDs[0]][1], results[0].ExpressionGroupID, "second group fires when the first misses")
}

func TestEvaluate_SkippedCompileGroupIsNonMatching(t *testing.T) {
	t.Parallel()

	f := build(t, promoSpec{
		name:      "P1",
		exclusive: true,
		tiers:     []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}},
	})

	// Simulate a compile-time skip: the store has a second group that the
	// workflow knows nothing about.
	promoID := f.promoIDs[0]
	tier := f.world.tiers[promoID][0]
	orphan, err := domain.NewRuleExpressionGroup(promoID, tier.ID, 99, nil)
	require.NoError(t, err)
	f.world.groups[tier.ID] = append(f.world.groups[tier.ID], orphan)

	results, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 10))

	require.NoError(t, err)
	assert.Empty(t, results, "a group without a workflow rule never matches")
}

func TestEvaluate_StoreErrorSkipsPromotionOthersContinue(t *testing.T) {
	t.Parallel()

	f := build(t,
		promoSpec{name: "P1", exclusive: false, tiers: []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}}},
		promoSpec{name: "P2", exclusive: false, tiers: []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}}},
	)

	// Fail all tier lookups: every promotion is skipped, request still
	// returns (empty, nil).
	f.world.failTiers = true

	results, err := f.eval.Evaluate(context.Background(), evalRequest("e1", 60))

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEvaluate_CancellationReturnsPartialResults(t *testing.T) {
	t.Parallel()

	f := build(t, promoSpec{
		name:      "P1",
		exclusive: true,
		tiers:     []tierSpec{{level: 1, expressions: []string{`ctx.gasto > 50.0`}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := f.eval.Evaluate(ctx, evalRequest("e1", 60))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestBuildEvalContext_ConvertsRFC3339Strings(t *testing.T) {
	t.Parallel()

	evalCtx := buildEvalContext(map[string]any{
		"since": "2024-01-01T00:00:00Z",
		"club":  "premium",
		"gasto": 60.0,
	})

	assert.IsType(t, time.Time{}, evalCtx["since"])
	assert.Equal(t, "premium", evalCtx["club"])
	assert.Equal(t, 60.0, evalCtx["gasto"])
}
