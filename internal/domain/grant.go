package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GrantStatus is the lifecycle state of a ContactReward.
// Transitions: pending -> granted, pending -> rejected. Nothing else.
type GrantStatus string

const (
	GrantStatusPending  GrantStatus = "pending"
	GrantStatusGranted  GrantStatus = "granted"
	GrantStatusRejected GrantStatus = "rejected"
)

// ErrInvalidTransition is returned for any status change other than
// pending -> granted/rejected.
var ErrInvalidTransition = errors.New("illegal grant status transition")

// ContactReward records that a reward was awarded to a contact for a specific
// promotion/tier/group at a time. Once written, only the status field may
// transition.
type ContactReward struct {
	ID            uuid.UUID
	ContactID     string
	PromotionID   uuid.UUID
	RewardID      *uuid.UUID
	GroupID       *uuid.UUID
	TierLevel     int
	GrantedAt     time.Time
	Status        GrantStatus
	GrantedValue  MonetaryValue
	CooldownUntil *time.Time
	SourceEventID string
}

// NewContactReward builds a pending grant. rewardID is nil for the
// "calculated" placeholder grant written when a group fires with no rewards.
func NewContactReward(contactID string, promotionID uuid.UUID, rewardID, groupID *uuid.UUID, tierLevel int, grantedAt time.Time, value MonetaryValue, cooldownUntil *time.Time, sourceEventID string) (*ContactReward, error) {
	if contactID == "" {
		return nil, errors.New("contact id cannot be empty")
	}
	if tierLevel < 1 {
		return nil, fmt.Errorf("tier level must be >= 1, got %d", tierLevel)
	}

	return &ContactReward{
		ID:            uuid.New(),
		ContactID:     contactID,
		PromotionID:   promotionID,
		RewardID:      rewardID,
		GroupID:       groupID,
		TierLevel:     tierLevel,
		GrantedAt:     grantedAt.UTC(),
		Status:        GrantStatusPending,
		GrantedValue:  value,
		CooldownUntil: cooldownUntil,
		SourceEventID: sourceEventID,
	}, nil
}

// Transition moves the grant to a terminal status. Only pending grants may
// transition; granted and rejected are final.
func (c *ContactReward) Transition(to GrantStatus) error {
	if c.Status != GrantStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	if to != GrantStatusGranted && to != GrantStatusRejected {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	return nil
}

// EffectiveCooldownDays resolves the cooldown applied to a grant:
// the tier-specific value when set, the promotion's global value otherwise.
func EffectiveCooldownDays(tierCooldownDays *int, globalCooldownDays int) int {
	if tierCooldownDays != nil {
		return *tierCooldownDays
	}
	return globalCooldownDays
}

// CooldownUntil computes grantedAt + days. Returns nil when days <= 0.
func CooldownUntil(grantedAt time.Time, days int) *time.Time {
	if days <= 0 {
		return nil
	}
	until := grantedAt.UTC().Add(time.Duration(days) * 24 * time.Hour)
	return &until
}
