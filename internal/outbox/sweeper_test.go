package outbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/freyr/internal/domain"
)

// fakeRepo is an in-memory outbox table.
type fakeRepo struct {
	mu       sync.Mutex
	messages []*domain.OutboxMessage
	batchErr error
}

func (f *fakeRepo) PendingBatch(_ context.Context, limit int) ([]*domain.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.batchErr != nil {
		return nil, f.batchErr
	}

	var pending []*domain.OutboxMessage
	for _, m := range f.messages {
		if !m.IsProcessed {
			pending = append(pending, m)
			if len(pending) == limit {
				break
			}
		}
	}
	return pending, nil
}

func (f *fakeRepo) MarkProcessed(_ context.Context, id uuid.UUID, processedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.messages {
		if m.ID == id && !m.IsProcessed {
			m.MarkProcessed(processedAt)
			return nil
		}
	}
	return fmt.Errorf("message %s not pending", id)
}

func (f *fakeRepo) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, m := range f.messages {
		if !m.IsProcessed {
			n++
		}
	}
	return n
}

// fakeBus records deliveries and can fail the first N attempts.
type fakeBus struct {
	mu        sync.Mutex
	delivered []uuid.UUID
	failNext  int
}

func (f *fakeBus) Publish(_ context.Context, msg *domain.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("bus unavailable")
	}
	f.delivered = append(f.delivered, msg.ID)
	return nil
}

func newMessage(t *testing.T, occurredAt time.Time) *domain.OutboxMessage {
	t.Helper()

	msg, err := domain.NewOutboxMessage("promotion.version.published", []byte(`{}`), occurredAt)
	require.NoError(t, err)
	return msg
}

func TestSweep_DrainsBatchInOccurrenceOrder(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := newMessage(t, base)
	second := newMessage(t, base.Add(time.Minute))
	repo.messages = []*domain.OutboxMessage{first, second}

	bus := &fakeBus{}
	s := New(nil, Config{}, repo, bus)

	require.NoError(t, s.sweep(context.Background()))

	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, bus.delivered)
	assert.Zero(t, repo.pendingCount())
	assert.True(t, first.IsProcessed)
	require.NotNil(t, first.ProcessedAt)
}

func TestSweep_BusFailureLeavesMessagePending(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	repo.messages = []*domain.OutboxMessage{newMessage(t, time.Now())}

	bus := &fakeBus{failNext: 1}
	s := New(nil, Config{}, repo, bus)

	err := s.sweep(context.Background())

	require.Error(t, err, "a rejected delivery must fail the cycle so backoff kicks in")
	assert.Equal(t, 1, repo.pendingCount(), "undelivered message stays pending for redelivery")

	// Next cycle succeeds: at-least-once, not at-most-once.
	require.NoError(t, s.sweep(context.Background()))
	assert.Zero(t, repo.pendingCount())
}

func TestSweep_EmptyOutboxIsQuiet(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	s := New(nil, Config{}, repo, &fakeBus{})

	assert.NoError(t, s.sweep(context.Background()))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	s := New(nil, Config{Interval: time.Second}, repo, &fakeBus{})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on cancellation")
	}
}
