// Package grant converts a fired (promotion, tier, group, rewards) into
// persisted ContactReward records, idempotently, together with the outbox
// message announcing the grant.
package grant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/store"
)

// OutboxTypeRewardGranted is the message type emitted for each grant batch.
const OutboxTypeRewardGranted = "promotion.reward.granted"

// Store is the slice of the persistence layer the service needs.
type Store interface {
	HasGrantedForEvent(ctx context.Context, contactID string, promotionID uuid.UUID, sourceEventID string) (bool, error)
	InsertGrants(ctx context.Context, grants []*domain.ContactReward, msg *domain.OutboxMessage) error
}

// Request describes one fired group.
type Request struct {
	ContactID          string
	PromotionID        uuid.UUID
	Version            int
	CountryISO         string
	TierLevel          int
	GroupID            uuid.UUID
	RewardIDs          []uuid.UUID
	SourceEventID      string
	GrantedAt          time.Time
	TierCooldownDays   *int
	GlobalCooldownDays int
}

// Service persists grants.
type Service struct {
	store  Store
	logger *slog.Logger

	// valueUnit is the placeholder unit written on fresh grants. The real
	// monetary value is computed downstream from the outbox event.
	valueUnit string
}

// New creates a grant Service. Panics on a nil store.
func New(grantStore Store, logger *slog.Logger, valueUnit string) *Service {
	if grantStore == nil {
		panic("grant: store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if valueUnit == "" {
		valueUnit = "EUR"
	}

	return &Service{store: grantStore, logger: logger, valueUnit: valueUnit}
}

// Grant writes the ContactReward rows for a fired group and returns their
// ids. All rows plus the outbox message commit in one transaction.
//
// Idempotency: when the request carries a source event id and a Granted
// reward already exists for (contact, promotion, event), the call returns
// silently with no ids. The same applies when the insert loses the race on
// the granted-event unique index.
func (s *Service) Grant(ctx context.Context, req Request) ([]uuid.UUID, error) {
	if req.SourceEventID != "" {
		exists, err := s.store.HasGrantedForEvent(ctx, req.ContactID, req.PromotionID, req.SourceEventID)
		if err != nil {
			return nil, fmt.Errorf("idempotency probe failed: %w", err)
		}
		if exists {
			s.logger.Debug("grant skipped, event already granted",
				slog.String("contact_id", req.ContactID),
				slog.String("promotion_id", req.PromotionID.String()),
				slog.String("event_id", req.SourceEventID),
			)
			return nil, nil
		}
	}

	days := domain.EffectiveCooldownDays(req.TierCooldownDays, req.GlobalCooldownDays)
	cooldownUntil := domain.CooldownUntil(req.GrantedAt, days)
	value := domain.ZeroMonetaryValue(s.valueUnit)
	groupID := req.GroupID

	grants, err := s.buildGrants(req, value, cooldownUntil, &groupID)
	if err != nil {
		return nil, err
	}

	msg, err := s.buildOutboxMessage(req, grants, cooldownUntil)
	if err != nil {
		return nil, err
	}

	if err := s.store.InsertGrants(ctx, grants, msg); err != nil {
		if errors.Is(err, store.ErrDuplicateEventGrant) {
			// A concurrent request granted the same event first.
			s.logger.Info("grant lost idempotency race, treating as no-op",
				slog.String("contact_id", req.ContactID),
				slog.String("promotion_id", req.PromotionID.String()),
				slog.String("event_id", req.SourceEventID),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to persist grants: %w", err)
	}

	ids := make([]uuid.UUID, len(grants))
	for i, g := range grants {
		ids[i] = g.ID
	}
	return ids, nil
}

// buildGrants creates one pending row per reward, or a single placeholder
// row with a nil reward id when the group fired without rewards.
func (s *Service) buildGrants(req Request, value domain.MonetaryValue, cooldownUntil *time.Time, groupID *uuid.UUID) ([]*domain.ContactReward, error) {
	if len(req.RewardIDs) == 0 {
		g, err := domain.NewContactReward(req.ContactID, req.PromotionID, nil, groupID, req.TierLevel, req.GrantedAt, value, cooldownUntil, req.SourceEventID)
		if err != nil {
			return nil, err
		}
		return []*domain.ContactReward{g}, nil
	}

	grants := make([]*domain.ContactReward, 0, len(req.RewardIDs))
	for _, rewardID := range req.RewardIDs {
		id := rewardID
		g, err := domain.NewContactReward(req.ContactID, req.PromotionID, &id, groupID, req.TierLevel, req.GrantedAt, value, cooldownUntil, req.SourceEventID)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, nil
}

// grantedPayload is the outbox event schema consumed by the downstream value
// calculator.
type grantedPayload struct {
	ContactID     string      `json:"contactId"`
	PromotionID   uuid.UUID   `json:"promotionId"`
	Version       int         `json:"version"`
	CountryISO    string      `json:"countryIso"`
	TierLevel     int         `json:"tierLevel"`
	GroupID       uuid.UUID   `json:"expressionGroupId"`
	GrantIDs      []uuid.UUID `json:"grantIds"`
	RewardIDs     []uuid.UUID `json:"rewardIds"`
	GrantedAt     time.Time   `json:"grantedAt"`
	CooldownUntil *time.Time  `json:"cooldownUntil"`
	SourceEventID string      `json:"sourceEventId,omitempty"`
}

func (s *Service) buildOutboxMessage(req Request, grants []*domain.ContactReward, cooldownUntil *time.Time) (*domain.OutboxMessage, error) {
	grantIDs := make([]uuid.UUID, len(grants))
	for i, g := range grants {
		grantIDs[i] = g.ID
	}

	payload, err := json.Marshal(grantedPayload{
		ContactID:     req.ContactID,
		PromotionID:   req.PromotionID,
		Version:       req.Version,
		CountryISO:    req.CountryISO,
		TierLevel:     req.TierLevel,
		GroupID:       req.GroupID,
		GrantIDs:      grantIDs,
		RewardIDs:     req.RewardIDs,
		GrantedAt:     req.GrantedAt.UTC(),
		CooldownUntil: cooldownUntil,
		SourceEventID: req.SourceEventID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal grant payload: %w", err)
	}

	return domain.NewOutboxMessage(OutboxTypeRewardGranted, payload, req.GrantedAt)
}
