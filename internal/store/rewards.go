package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rafaeljc/freyr/internal/domain"
)

var _ RewardRepository = (*PostgresStore)(nil)

// RewardRepository is the persistence contract for the reward catalog and
// its promotion/group links.
type RewardRepository interface {
	// CreateReward inserts a new catalog reward.
	CreateReward(ctx context.Context, r *domain.Reward) error

	// GetReward loads a reward by id.
	GetReward(ctx context.Context, id uuid.UUID) (*domain.Reward, error)

	// GlobalRewards returns the active rewards in the promotion's global pool.
	GlobalRewards(ctx context.Context, promotionID uuid.UUID) ([]*domain.Reward, error)

	// GroupRewards returns the active rewards linked to an expression group.
	// A non-empty result overrides the global pool.
	GroupRewards(ctx context.Context, groupID uuid.UUID) ([]*domain.Reward, error)
}

const rewardColumns = `id, name, kind, value_amount::text, value_unit, active, created_at`

func scanReward(row pgx.Row) (*domain.Reward, error) {
	var r domain.Reward
	var amount string
	err := row.Scan(&r.ID, &r.Name, &r.Kind, &amount, &r.Value.Unit, &r.Active, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Value.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid reward amount %q: %w", amount, err)
	}
	return &r, nil
}

// CreateReward inserts a new catalog reward.
func (s *PostgresStore) CreateReward(ctx context.Context, r *domain.Reward) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO promo.reward (id, name, kind, value_amount, value_unit, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.Name, r.Kind, r.Value.Amount.String(), r.Value.Unit, r.Active, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reward: %w", err)
	}
	return nil
}

// GetReward loads a reward by id.
func (s *PostgresStore) GetReward(ctx context.Context, id uuid.UUID) (*domain.Reward, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rewardColumns+` FROM promo.reward WHERE id = $1`, id)

	r, err := scanReward(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reward %s: %w", id, err)
	}
	return r, nil
}

// GlobalRewards returns the promotion's global reward pool.
func (s *PostgresStore) GlobalRewards(ctx context.Context, promotionID uuid.UUID) ([]*domain.Reward, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rewardColumnsPrefixed+`
		FROM promo.reward r
		JOIN promo.promotion_reward pr ON pr.reward_id = r.id
		WHERE pr.promotion_id = $1 AND r.active
		ORDER BY r.created_at
	`, promotionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query global rewards: %w", err)
	}
	defer rows.Close()

	return collectRewards(rows)
}

// GroupRewards returns the rewards linked to a specific expression group.
func (s *PostgresStore) GroupRewards(ctx context.Context, groupID uuid.UUID) ([]*domain.Reward, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rewardColumnsPrefixed+`
		FROM promo.reward r
		JOIN promo.rule_group_reward gr ON gr.reward_id = r.id
		WHERE gr.group_id = $1 AND r.active
		ORDER BY r.created_at
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group rewards: %w", err)
	}
	defer rows.Close()

	return collectRewards(rows)
}

const rewardColumnsPrefixed = `r.id, r.name, r.kind, r.value_amount::text, r.value_unit, r.active, r.created_at`

func collectRewards(rows pgx.Rows) ([]*domain.Reward, error) {
	var rewards []*domain.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward row: %w", err)
		}
		rewards = append(rewards, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rewards, nil
}
