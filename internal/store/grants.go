package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rafaeljc/freyr/internal/domain"
)

var _ GrantRepository = (*PostgresStore)(nil)

// GrantRepository is the persistence contract for contact rewards. The
// queries back the evaluator's cooldown and idempotency gates; each is served
// by an index on promo.contact_reward.
type GrantRepository interface {
	// InsertGrants writes all grants and the optional outbox message in one
	// transaction. Returns ErrDuplicateEventGrant when the granted-event
	// unique index rejects the write.
	InsertGrants(ctx context.Context, grants []*domain.ContactReward, msg *domain.OutboxMessage) error

	// LastGranted returns the most recent Granted reward for
	// (contact, promotion), or nil when none exists.
	LastGranted(ctx context.Context, contactID string, promotionID uuid.UUID) (*domain.ContactReward, error)

	// LastGrantedForTier returns the most recent Granted reward for
	// (contact, promotion, tierLevel), or nil when none exists.
	LastGrantedForTier(ctx context.Context, contactID string, promotionID uuid.UUID, tierLevel int) (*domain.ContactReward, error)

	// HasGrantedForEvent probes the idempotency index.
	HasGrantedForEvent(ctx context.Context, contactID string, promotionID uuid.UUID, sourceEventID string) (bool, error)

	// UpdateGrantStatus transitions a grant to a terminal status, enforcing
	// the one-way pending -> granted/rejected rule.
	UpdateGrantStatus(ctx context.Context, grantID uuid.UUID, to domain.GrantStatus) error
}

const grantColumns = `id, contact_id, promotion_id, reward_id, group_id, tier_level, granted_at, status, granted_amount::text, granted_unit, cooldown_until, source_event_id`

func scanGrant(row pgx.Row) (*domain.ContactReward, error) {
	var g domain.ContactReward
	var amount string
	var sourceEventID *string

	err := row.Scan(
		&g.ID,
		&g.ContactID,
		&g.PromotionID,
		&g.RewardID,
		&g.GroupID,
		&g.TierLevel,
		&g.GrantedAt,
		&g.Status,
		&amount,
		&g.GrantedValue.Unit,
		&g.CooldownUntil,
		&sourceEventID,
	)
	if err != nil {
		return nil, err
	}

	g.GrantedValue.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid granted amount %q: %w", amount, err)
	}
	if sourceEventID != nil {
		g.SourceEventID = *sourceEventID
	}
	return &g, nil
}

// InsertGrants writes all grants and the outbox message atomically.
func (s *PostgresStore) InsertGrants(ctx context.Context, grants []*domain.ContactReward, msg *domain.OutboxMessage) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, g := range grants {
		var sourceEventID *string
		if g.SourceEventID != "" {
			sourceEventID = &g.SourceEventID
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO promo.contact_reward
				(id, contact_id, promotion_id, reward_id, group_id, tier_level, granted_at, status, granted_amount, granted_unit, cooldown_until, source_event_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, g.ID, g.ContactID, g.PromotionID, g.RewardID, g.GroupID, g.TierLevel, g.GrantedAt,
			g.Status, g.GrantedValue.Amount.String(), g.GrantedValue.Unit, g.CooldownUntil, sourceEventID)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateEventGrant
			}
			return fmt.Errorf("failed to insert grant: %w", err)
		}
	}

	if msg != nil {
		if err := enqueueOutboxTx(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit grants: %w", err)
	}

	return nil
}

// LastGranted returns the newest Granted reward for (contact, promotion).
func (s *PostgresStore) LastGranted(ctx context.Context, contactID string, promotionID uuid.UUID) (*domain.ContactReward, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+grantColumns+`
		FROM promo.contact_reward
		WHERE contact_id = $1 AND promotion_id = $2 AND status = 'granted'
		ORDER BY granted_at DESC
		LIMIT 1
	`, contactID, promotionID)

	g, err := scanGrant(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last granted reward: %w", err)
	}
	return g, nil
}

// LastGrantedForTier returns the newest Granted reward at a tier level.
func (s *PostgresStore) LastGrantedForTier(ctx context.Context, contactID string, promotionID uuid.UUID, tierLevel int) (*domain.ContactReward, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+grantColumns+`
		FROM promo.contact_reward
		WHERE contact_id = $1 AND promotion_id = $2 AND tier_level = $3 AND status = 'granted'
		ORDER BY granted_at DESC
		LIMIT 1
	`, contactID, promotionID, tierLevel)

	g, err := scanGrant(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last granted reward for tier: %w", err)
	}
	return g, nil
}

// HasGrantedForEvent probes for a Granted reward tied to a source event.
func (s *PostgresStore) HasGrantedForEvent(ctx context.Context, contactID string, promotionID uuid.UUID, sourceEventID string) (bool, error) {
	if sourceEventID == "" {
		return false, nil
	}

	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM promo.contact_reward
			WHERE contact_id = $1 AND promotion_id = $2 AND source_event_id = $3 AND status = 'granted'
		)
	`, contactID, promotionID, sourceEventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to probe event idempotency: %w", err)
	}

	return exists, nil
}

// UpdateGrantStatus performs the one-way status transition. The WHERE clause
// enforces that only pending grants move; a second transition for the same
// grant affects zero rows and returns ErrInvalidTransition.
func (s *PostgresStore) UpdateGrantStatus(ctx context.Context, grantID uuid.UUID, to domain.GrantStatus) error {
	if to != domain.GrantStatusGranted && to != domain.GrantStatusRejected {
		return fmt.Errorf("%w: pending -> %s", domain.ErrInvalidTransition, to)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE promo.contact_reward
		SET status = $2
		WHERE id = $1 AND status = 'pending'
	`, grantID, to)
	if err != nil {
		if isUniqueViolation(err) {
			// Another writer already flipped a grant for the same event to
			// Granted; this transition is a no-op by contract.
			return ErrDuplicateEventGrant
		}
		return fmt.Errorf("failed to update grant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM promo.contact_reward WHERE id = $1)`, grantID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to probe grant: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return domain.ErrInvalidTransition
	}

	return nil
}
