package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rafaeljc/freyr/internal/domain"
)

// Compile-time check to verify that PostgresStore implements the interface.
var _ PromotionRepository = (*PostgresStore)(nil)

// ActiveVersion pairs a published version with its promotion metadata, as
// returned by the active-promotions query.
type ActiveVersion struct {
	Promotion domain.Promotion
	Version   domain.PromotionVersion
}

// DraftTier describes one tier of a draft upsert.
type DraftTier struct {
	TierLevel    int
	Order        int
	CooldownDays *int
	Groups       []DraftGroup
}

// DraftGroup describes one expression group of a draft tier.
type DraftGroup struct {
	Order             int
	ExpressionPayload json.RawMessage
	RewardIDs         []uuid.UUID
}

// UpsertDraftParams carries everything persisted by a draft upsert. The
// version number is allocated inside the transaction. The caller supplies
// the promotion id (generated at the boundary for new promotions) so the
// workflow can be compiled under its final name before anything persists.
type UpsertDraftParams struct {
	PromotionID        uuid.UUID
	Name               string
	Timezone           string
	GlobalCooldownDays int
	CountryISO         string
	Window             domain.ValidityWindow
	WorkflowPayload    []byte
	ManifestPayload    []byte
	GlobalRewardIDs    []uuid.UUID
	Tiers              []DraftTier
}

// PromotionRepository is the persistence contract for promotions and their
// versions.
type PromotionRepository interface {
	// GetPromotion loads promotion metadata by id.
	GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error)

	// UpsertDraft creates or updates the draft version for
	// (promotion, country), replacing tiers, groups and reward links in one
	// transaction. A new draft gets MAX(version)+1.
	UpsertDraft(ctx context.Context, p UpsertDraftParams) (*domain.PromotionVersion, error)

	// GetLatestVersion returns the highest-numbered version for
	// (promotion, country), draft or published.
	GetLatestVersion(ctx context.Context, promotionID uuid.UUID, countryISO string) (*domain.PromotionVersion, error)

	// PublishLatest flips the latest version of (promotion, country) to
	// published and enqueues the outbox message built by msgFor in the same
	// transaction. msgFor receives the version being published. Publishing an
	// already-published version is a no-op; the outbox message is only
	// written when the flag actually flips.
	PublishLatest(ctx context.Context, promotionID uuid.UUID, countryISO string, msgFor OutboxMessageFactory) (*domain.PromotionVersion, error)

	// ActiveVersions returns the latest published version per promotion for a
	// country whose validity window contains t, ordered by promotion id.
	ActiveVersions(ctx context.Context, countryISO string, t time.Time) ([]ActiveVersion, error)
}

const promotionColumns = `id, name, timezone, global_cooldown_days, created_at`

func scanPromotion(row pgx.Row) (*domain.Promotion, error) {
	var p domain.Promotion
	err := row.Scan(&p.ID, &p.Name, &p.Timezone, &p.GlobalCooldownDays, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const versionColumns = `id, promotion_id, version, country_iso, is_draft, workflow_payload, manifest_payload, timezone, global_cooldown_days, valid_from, valid_to, created_at`

func scanVersion(row pgx.Row) (*domain.PromotionVersion, error) {
	var v domain.PromotionVersion
	err := row.Scan(
		&v.ID,
		&v.PromotionID,
		&v.Version,
		&v.CountryISO,
		&v.IsDraft,
		&v.WorkflowPayload,
		&v.ManifestPayload,
		&v.Timezone,
		&v.GlobalCooldownDays,
		&v.Window.From,
		&v.Window.To,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetPromotion loads promotion metadata by id.
func (s *PostgresStore) GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error) {
	row := s.db.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promo.promotion WHERE id = $1`, id)

	p, err := scanPromotion(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load promotion %s: %w", id, err)
	}
	return p, nil
}

// UpsertDraft creates or updates the draft version for (promotion, country).
func (s *PostgresStore) UpsertDraft(ctx context.Context, p UpsertDraftParams) (*domain.PromotionVersion, error) {
	country, err := domain.NormalizeCountry(p.CountryISO)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	promotionID, err := s.ensurePromotion(ctx, tx, p)
	if err != nil {
		return nil, err
	}

	version, err := s.upsertVersionRow(ctx, tx, promotionID, country, p)
	if err != nil {
		return nil, err
	}

	if err := s.replaceTiers(ctx, tx, promotionID, p.Tiers); err != nil {
		return nil, err
	}

	if err := s.replaceGlobalRewards(ctx, tx, promotionID, p.GlobalRewardIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit draft upsert: %w", err)
	}

	return version, nil
}

// ensurePromotion inserts or updates the promotion metadata row under the
// caller-supplied id.
func (s *PostgresStore) ensurePromotion(ctx context.Context, tx pgx.Tx, p UpsertDraftParams) (uuid.UUID, error) {
	if p.PromotionID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("promotion id cannot be nil")
	}

	// Field validation mirrors the domain factory.
	if _, err := domain.NewPromotion(p.Name, p.Timezone, p.GlobalCooldownDays, time.Now()); err != nil {
		return uuid.Nil, err
	}

	timezone := p.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO promo.promotion (id, name, timezone, global_cooldown_days, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, timezone = EXCLUDED.timezone, global_cooldown_days = EXCLUDED.global_cooldown_days
	`, p.PromotionID, p.Name, timezone, p.GlobalCooldownDays, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert promotion: %w", err)
	}
	return p.PromotionID, nil
}

// upsertVersionRow updates the current draft in place, or allocates
// MAX(version)+1 and inserts a fresh draft when the latest version is
// published (or none exists). The SELECT ... FOR UPDATE serializes
// concurrent upserts for the same (promotion, country).
func (s *PostgresStore) upsertVersionRow(ctx context.Context, tx pgx.Tx, promotionID uuid.UUID, country string, p UpsertDraftParams) (*domain.PromotionVersion, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM promo.promotion_version
		WHERE promotion_id = $1 AND country_iso = $2
		ORDER BY version DESC
		LIMIT 1
		FOR UPDATE
	`, promotionID, country)

	latest, err := scanVersion(row)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to load latest version: %w", err)
	}

	if latest != nil && latest.IsDraft {
		timezone := p.Timezone
		if timezone == "" {
			timezone = "UTC"
		}

		latest.WorkflowPayload = p.WorkflowPayload
		latest.ManifestPayload = p.ManifestPayload
		latest.Timezone = timezone
		latest.GlobalCooldownDays = p.GlobalCooldownDays
		latest.Window = p.Window

		_, err = tx.Exec(ctx, `
			UPDATE promo.promotion_version
			SET workflow_payload = $2, manifest_payload = $3, timezone = $4,
			    global_cooldown_days = $5, valid_from = $6, valid_to = $7
			WHERE id = $1
		`, latest.ID, p.WorkflowPayload, p.ManifestPayload, timezone, p.GlobalCooldownDays, p.Window.From, p.Window.To)
		if err != nil {
			return nil, fmt.Errorf("failed to update draft version: %w", err)
		}
		return latest, nil
	}

	next := 1
	if latest != nil {
		next = latest.Version + 1
	}

	version, err := domain.NewPromotionVersion(promotionID, next, country, p.WorkflowPayload, p.ManifestPayload, p.Timezone, p.GlobalCooldownDays, p.Window, time.Now())
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO promo.promotion_version
			(id, promotion_id, version, country_iso, is_draft, workflow_payload, manifest_payload, timezone, global_cooldown_days, valid_from, valid_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, version.ID, version.PromotionID, version.Version, version.CountryISO, version.IsDraft,
		version.WorkflowPayload, version.ManifestPayload, version.Timezone, version.GlobalCooldownDays,
		version.Window.From, version.Window.To, version.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to insert draft version: %w", err)
	}

	return version, nil
}

// replaceTiers drops and re-creates the tier/group tree for the promotion.
// Tiers are keyed by promotion, so re-authoring replaces the whole tree.
func (s *PostgresStore) replaceTiers(ctx context.Context, tx pgx.Tx, promotionID uuid.UUID, tiers []DraftTier) error {
	// Group rows and group-reward links cascade from the tier delete.
	if _, err := tx.Exec(ctx, `DELETE FROM promo.rule_tier WHERE promotion_id = $1`, promotionID); err != nil {
		return fmt.Errorf("failed to clear tiers: %w", err)
	}

	for _, t := range tiers {
		tier, err := domain.NewRuleTier(promotionID, t.TierLevel, t.Order, t.CooldownDays)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO promo.rule_tier (id, promotion_id, tier_level, ord, cooldown_days)
			VALUES ($1, $2, $3, $4, $5)
		`, tier.ID, tier.PromotionID, tier.TierLevel, tier.Order, tier.CooldownDays)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("duplicate tier level %d: %w", t.TierLevel, ErrVersionConflict)
			}
			return fmt.Errorf("failed to insert tier %d: %w", t.TierLevel, err)
		}

		for _, g := range t.Groups {
			group, err := domain.NewRuleExpressionGroup(promotionID, tier.ID, g.Order, g.ExpressionPayload)
			if err != nil {
				return err
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO promo.rule_expression_group (id, promotion_id, tier_id, ord, expression_payload)
				VALUES ($1, $2, $3, $4, $5)
			`, group.ID, group.PromotionID, group.TierID, group.Order, group.ExpressionPayload)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("duplicate group order %d in tier %d: %w", g.Order, t.TierLevel, ErrVersionConflict)
				}
				return fmt.Errorf("failed to insert group: %w", err)
			}

			for _, rewardID := range g.RewardIDs {
				_, err = tx.Exec(ctx, `
					INSERT INTO promo.rule_group_reward (group_id, reward_id)
					VALUES ($1, $2)
					ON CONFLICT DO NOTHING
				`, group.ID, rewardID)
				if err != nil {
					return fmt.Errorf("failed to link group reward: %w", err)
				}
			}
		}
	}

	return nil
}

// replaceGlobalRewards rewrites the promotion's global reward pool.
func (s *PostgresStore) replaceGlobalRewards(ctx context.Context, tx pgx.Tx, promotionID uuid.UUID, rewardIDs []uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM promo.promotion_reward WHERE promotion_id = $1`, promotionID); err != nil {
		return fmt.Errorf("failed to clear promotion rewards: %w", err)
	}

	for _, rewardID := range rewardIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO promo.promotion_reward (promotion_id, reward_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, promotionID, rewardID)
		if err != nil {
			return fmt.Errorf("failed to link promotion reward: %w", err)
		}
	}

	return nil
}

// GetLatestVersion returns the highest-numbered version for the pair.
func (s *PostgresStore) GetLatestVersion(ctx context.Context, promotionID uuid.UUID, countryISO string) (*domain.PromotionVersion, error) {
	country, err := domain.NormalizeCountry(countryISO)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM promo.promotion_version
		WHERE promotion_id = $1 AND country_iso = $2
		ORDER BY version DESC
		LIMIT 1
	`, promotionID, country)

	v, err := scanVersion(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest version: %w", err)
	}
	return v, nil
}

// OutboxMessageFactory builds the outbox message for a version once its
// number is known inside the publish transaction. Returning a nil message
// skips the enqueue.
type OutboxMessageFactory func(v *domain.PromotionVersion) (*domain.OutboxMessage, error)

// PublishLatest flips the latest version to published inside one transaction
// together with the outbox message.
func (s *PostgresStore) PublishLatest(ctx context.Context, promotionID uuid.UUID, countryISO string, msgFor OutboxMessageFactory) (*domain.PromotionVersion, error) {
	country, err := domain.NormalizeCountry(countryISO)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM promo.promotion_version
		WHERE promotion_id = $1 AND country_iso = $2
		ORDER BY version DESC
		LIMIT 1
		FOR UPDATE
	`, promotionID, country)

	v, err := scanVersion(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest version: %w", err)
	}

	if !v.IsDraft {
		// Already published: publishing is one-way and idempotent.
		return v, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE promo.promotion_version SET is_draft = false WHERE id = $1`, v.ID); err != nil {
		return nil, fmt.Errorf("failed to publish version: %w", err)
	}
	v.Publish()

	if msgFor != nil {
		msg, err := msgFor(v)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			if err := enqueueOutboxTx(ctx, tx, msg); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit publish: %w", err)
	}

	return v, nil
}

// ActiveVersions returns the latest published version per promotion for a
// country whose window contains t.
func (s *PostgresStore) ActiveVersions(ctx context.Context, countryISO string, t time.Time) ([]ActiveVersion, error) {
	country, err := domain.NormalizeCountry(countryISO)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT v.id, v.promotion_id, v.version, v.country_iso, v.is_draft,
		       v.workflow_payload, v.manifest_payload, v.timezone, v.global_cooldown_days,
		       v.valid_from, v.valid_to, v.created_at,
		       p.name, p.timezone, p.global_cooldown_days, p.created_at
		FROM promo.promotion_version v
		JOIN promo.promotion p ON p.id = v.promotion_id
		WHERE v.country_iso = $1
		  AND NOT v.is_draft
		  AND (v.valid_from IS NULL OR v.valid_from <= $2)
		  AND (v.valid_to IS NULL OR v.valid_to >= $2)
		  AND v.version = (
		      SELECT max(v2.version)
		      FROM promo.promotion_version v2
		      WHERE v2.promotion_id = v.promotion_id
		        AND v2.country_iso = v.country_iso
		        AND NOT v2.is_draft
		  )
		ORDER BY v.promotion_id
	`, country, t)
	if err != nil {
		return nil, fmt.Errorf("failed to query active versions: %w", err)
	}
	defer rows.Close()

	var result []ActiveVersion
	for rows.Next() {
		var av ActiveVersion
		if err := rows.Scan(
			&av.Version.ID,
			&av.Version.PromotionID,
			&av.Version.Version,
			&av.Version.CountryISO,
			&av.Version.IsDraft,
			&av.Version.WorkflowPayload,
			&av.Version.ManifestPayload,
			&av.Version.Timezone,
			&av.Version.GlobalCooldownDays,
			&av.Version.Window.From,
			&av.Version.Window.To,
			&av.Version.CreatedAt,
			&av.Promotion.Name,
			&av.Promotion.Timezone,
			&av.Promotion.GlobalCooldownDays,
			&av.Promotion.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan active version: %w", err)
		}
		av.Promotion.ID = av.Version.PromotionID
		result = append(result, av)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}
