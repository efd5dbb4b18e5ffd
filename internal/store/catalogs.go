package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rafaeljc/freyr/internal/domain"
)

var _ CatalogRepository = (*PostgresStore)(nil)

// CatalogRepository resolves attribute and operator definitions for the
// authoring compiler. It satisfies compiler.Catalogs.
type CatalogRepository interface {
	// Attribute loads an attribute catalog entry by id.
	Attribute(ctx context.Context, id uuid.UUID) (*domain.AttributeCatalog, error)

	// Operator loads an operator catalog entry by id, including its
	// supported data-type set.
	Operator(ctx context.Context, id uuid.UUID) (*domain.OperatorCatalog, error)

	// CreateAttribute inserts a catalog attribute.
	CreateAttribute(ctx context.Context, a *domain.AttributeCatalog) error

	// CreateOperator inserts a catalog operator with its supported types.
	CreateOperator(ctx context.Context, o *domain.OperatorCatalog) error
}

// Attribute loads an attribute catalog entry.
func (s *PostgresStore) Attribute(ctx context.Context, id uuid.UUID) (*domain.AttributeCatalog, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, entity_name, logical_name, display_name, data_type, exposed
		FROM catalog.attribute_catalog
		WHERE id = $1
	`, id)

	var a domain.AttributeCatalog
	err := row.Scan(&a.ID, &a.EntityName, &a.LogicalName, &a.DisplayName, &a.DataType, &a.Exposed)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attribute %s: %w", id, err)
	}

	return &a, nil
}

// Operator loads an operator catalog entry and its supported types.
func (s *PostgresStore) Operator(ctx context.Context, id uuid.UUID) (*domain.OperatorCatalog, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, code, display_name, active
		FROM catalog.operator_catalog
		WHERE id = $1
	`, id)

	var o domain.OperatorCatalog
	err := row.Scan(&o.ID, &o.Code, &o.DisplayName, &o.Active)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operator %s: %w", id, err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT data_type
		FROM catalog.operator_supported_type
		WHERE operator_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query operator supported types: %w", err)
	}
	defer rows.Close()

	o.SupportedTypes = make(map[domain.DataType]struct{})
	for rows.Next() {
		var dt domain.DataType
		if err := rows.Scan(&dt); err != nil {
			return nil, fmt.Errorf("failed to scan supported type: %w", err)
		}
		o.SupportedTypes[dt] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return &o, nil
}

// CreateAttribute inserts a catalog attribute.
func (s *PostgresStore) CreateAttribute(ctx context.Context, a *domain.AttributeCatalog) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO catalog.attribute_catalog (id, entity_name, logical_name, display_name, data_type, exposed)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.EntityName, a.LogicalName, a.DisplayName, a.DataType, a.Exposed)
	if err != nil {
		return fmt.Errorf("failed to insert attribute: %w", err)
	}
	return nil
}

// CreateOperator inserts a catalog operator with its supported-type set.
func (s *PostgresStore) CreateOperator(ctx context.Context, o *domain.OperatorCatalog) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO catalog.operator_catalog (id, code, display_name, active)
		VALUES ($1, $2, $3, $4)
	`, o.ID, o.Code, o.DisplayName, o.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("operator with code %q already exists", o.Code)
		}
		return fmt.Errorf("failed to insert operator: %w", err)
	}

	for dt := range o.SupportedTypes {
		_, err = tx.Exec(ctx, `
			INSERT INTO catalog.operator_supported_type (operator_id, data_type)
			VALUES ($1, $2)
		`, o.ID, dt)
		if err != nil {
			return fmt.Errorf("failed to insert supported type: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit operator: %w", err)
	}

	return nil
}
