package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OutboxMessage is a durable staging record for events published to the
// downstream bus. Messages are written in the same transaction as the state
// change that emitted them and drained at-least-once by the sweeper.
type OutboxMessage struct {
	ID          uuid.UUID
	OccurredAt  time.Time
	Type        string
	Payload     json.RawMessage
	IsProcessed bool
	ProcessedAt *time.Time
}

// NewOutboxMessage validates and builds a pending outbox message.
func NewOutboxMessage(msgType string, payload json.RawMessage, now time.Time) (*OutboxMessage, error) {
	if msgType == "" {
		return nil, errors.New("outbox message type cannot be empty")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	return &OutboxMessage{
		ID:         uuid.New(),
		OccurredAt: now.UTC(),
		Type:       msgType,
		Payload:    payload,
	}, nil
}

// MarkProcessed stamps the message as handed to the bus.
func (m *OutboxMessage) MarkProcessed(now time.Time) {
	m.IsProcessed = true
	t := now.UTC()
	m.ProcessedAt = &t
}
