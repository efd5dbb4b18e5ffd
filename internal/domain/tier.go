package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RuleTier is a level within a promotion. Tiers evaluate in (tier_level, ord)
// order and tier N+1 is gated on a prior grant at tier N.
type RuleTier struct {
	ID           uuid.UUID
	PromotionID  uuid.UUID
	TierLevel    int
	Order        int
	CooldownDays *int
}

// NewRuleTier validates and builds a tier.
func NewRuleTier(promotionID uuid.UUID, tierLevel, order int, cooldownDays *int) (*RuleTier, error) {
	if tierLevel < 1 {
		return nil, fmt.Errorf("tier level must be >= 1, got %d", tierLevel)
	}
	if order < 0 {
		return nil, fmt.Errorf("tier order cannot be negative, got %d", order)
	}
	if cooldownDays != nil && *cooldownDays < 0 {
		return nil, fmt.Errorf("tier cooldown days cannot be negative, got %d", *cooldownDays)
	}

	return &RuleTier{
		ID:           uuid.New(),
		PromotionID:  promotionID,
		TierLevel:    tierLevel,
		Order:        order,
		CooldownDays: cooldownDays,
	}, nil
}

// RuleExpressionGroup is one rule inside a tier. Groups evaluate in ascending
// Order; at most one group per tier may fire.
type RuleExpressionGroup struct {
	ID                uuid.UUID
	PromotionID       uuid.UUID
	TierID            uuid.UUID
	Order             int
	ExpressionPayload json.RawMessage
}

// NewRuleExpressionGroup validates and builds an expression group.
func NewRuleExpressionGroup(promotionID, tierID uuid.UUID, order int, expression json.RawMessage) (*RuleExpressionGroup, error) {
	if order < 0 {
		return nil, fmt.Errorf("group order cannot be negative, got %d", order)
	}
	if len(expression) == 0 {
		expression = json.RawMessage("{}")
	}

	return &RuleExpressionGroup{
		ID:                uuid.New(),
		PromotionID:       promotionID,
		TierID:            tierID,
		Order:             order,
		ExpressionPayload: expression,
	}, nil
}
