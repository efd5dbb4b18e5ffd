package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rafaeljc/freyr/internal/domain"
)

var _ TierRepository = (*PostgresStore)(nil)

// TierRepository serves the evaluator's tier walk.
type TierRepository interface {
	// TiersForPromotion returns the promotion's tiers ordered by
	// (tier_level, ord).
	TiersForPromotion(ctx context.Context, promotionID uuid.UUID) ([]*domain.RuleTier, error)

	// GroupsForTier returns the tier's expression groups ordered by ord.
	GroupsForTier(ctx context.Context, tierID uuid.UUID) ([]*domain.RuleExpressionGroup, error)
}

// TiersForPromotion returns the promotion's tiers in evaluation order.
func (s *PostgresStore) TiersForPromotion(ctx context.Context, promotionID uuid.UUID) ([]*domain.RuleTier, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, promotion_id, tier_level, ord, cooldown_days
		FROM promo.rule_tier
		WHERE promotion_id = $1
		ORDER BY tier_level, ord
	`, promotionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiers: %w", err)
	}
	defer rows.Close()

	var tiers []*domain.RuleTier
	for rows.Next() {
		var t domain.RuleTier
		if err := rows.Scan(&t.ID, &t.PromotionID, &t.TierLevel, &t.Order, &t.CooldownDays); err != nil {
			return nil, fmt.Errorf("failed to scan tier row: %w", err)
		}
		tiers = append(tiers, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return tiers, nil
}

// GroupsForTier returns the tier's groups in evaluation order.
func (s *PostgresStore) GroupsForTier(ctx context.Context, tierID uuid.UUID) ([]*domain.RuleExpressionGroup, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, promotion_id, tier_id, ord, expression_payload
		FROM promo.rule_expression_group
		WHERE tier_id = $1
		ORDER BY ord
	`, tierID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []*domain.RuleExpressionGroup
	for rows.Next() {
		var g domain.RuleExpressionGroup
		if err := rows.Scan(&g.ID, &g.PromotionID, &g.TierID, &g.Order, &g.ExpressionPayload); err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		groups = append(groups, &g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return groups, nil
}
