package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RewardKind enumerates the supported reward categories.
type RewardKind string

const (
	RewardKindCoupon   RewardKind = "coupon"
	RewardKindPoints   RewardKind = "points"
	RewardKindGift     RewardKind = "gift"
	RewardKindCashback RewardKind = "cashback"
)

// ParseRewardKind validates a reward kind string (case-insensitive).
func ParseRewardKind(s string) (RewardKind, error) {
	switch RewardKind(strings.ToLower(strings.TrimSpace(s))) {
	case RewardKindCoupon:
		return RewardKindCoupon, nil
	case RewardKindPoints:
		return RewardKindPoints, nil
	case RewardKindGift:
		return RewardKindGift, nil
	case RewardKindCashback:
		return RewardKindCashback, nil
	default:
		return "", fmt.Errorf("unknown reward kind %q", s)
	}
}

// MonetaryValue is an immutable amount/unit pair. Comparisons are structural.
type MonetaryValue struct {
	Amount decimal.Decimal
	Unit   string
}

// NewMonetaryValue validates amount >= 0 and a non-empty, trimmed unit.
func NewMonetaryValue(amount decimal.Decimal, unit string) (MonetaryValue, error) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return MonetaryValue{}, errors.New("monetary unit cannot be empty")
	}
	if amount.IsNegative() {
		return MonetaryValue{}, fmt.Errorf("monetary amount cannot be negative, got %s", amount)
	}
	return MonetaryValue{Amount: amount, Unit: unit}, nil
}

// ZeroMonetaryValue builds the placeholder value written on fresh grants.
// The actual amount is computed downstream from the outbox event.
func ZeroMonetaryValue(unit string) MonetaryValue {
	return MonetaryValue{Amount: decimal.Zero, Unit: unit}
}

// Equal reports structural equality.
func (m MonetaryValue) Equal(o MonetaryValue) bool {
	return m.Unit == o.Unit && m.Amount.Equal(o.Amount)
}

// Reward is a catalog entry referenced by promotions (global pool) and by
// expression groups (group-specific override).
type Reward struct {
	ID        uuid.UUID
	Name      string
	Kind      RewardKind
	Value     MonetaryValue
	Active    bool
	CreatedAt time.Time
}

// NewReward validates and builds a reward.
func NewReward(name string, kind RewardKind, value MonetaryValue, now time.Time) (*Reward, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("reward name cannot be empty")
	}
	if _, err := ParseRewardKind(string(kind)); err != nil {
		return nil, err
	}

	return &Reward{
		ID:        uuid.New(),
		Name:      name,
		Kind:      kind,
		Value:     value,
		Active:    true,
		CreatedAt: now.UTC(),
	}, nil
}

// PromotionReward links a reward into a promotion's global pool.
type PromotionReward struct {
	PromotionID uuid.UUID
	RewardID    uuid.UUID
}

// RuleGroupReward links a reward to a specific expression group. When a group
// has any links, they override the promotion's global pool.
type RuleGroupReward struct {
	GroupID  uuid.UUID
	RewardID uuid.UUID
}
