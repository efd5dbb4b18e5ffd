package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rafaeljc/freyr/internal/domain"
)

var _ OutboxRepository = (*PostgresStore)(nil)

// OutboxRepository is the persistence contract for the at-least-once outbox.
// Messages are enqueued inside the transaction of the state change that
// emitted them (see InsertGrants and PublishLatest) and drained by the
// sweeper.
type OutboxRepository interface {
	// PendingBatch returns up to limit unprocessed messages in occurrence
	// order.
	PendingBatch(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)

	// MarkProcessed stamps a message as handed to the bus.
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
}

// enqueueOutboxTx writes an outbox row inside an open transaction.
func enqueueOutboxTx(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO infrastructure.outbox_message (id, occurred_at, type, payload, is_processed, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.OccurredAt, msg.Type, msg.Payload, msg.IsProcessed, msg.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox message: %w", err)
	}
	return nil
}

// PendingBatch returns the oldest unprocessed messages.
func (s *PostgresStore) PendingBatch(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, occurred_at, type, payload, is_processed, processed_at
		FROM infrastructure.outbox_message
		WHERE NOT is_processed
		ORDER BY occurred_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.OccurredAt, &m.Type, &m.Payload, &m.IsProcessed, &m.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return messages, nil
}

// MarkProcessed stamps a message atomically.
func (s *PostgresStore) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE infrastructure.outbox_message
		SET is_processed = true, processed_at = $2
		WHERE id = $1 AND NOT is_processed
	`, id, processedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark outbox message processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
