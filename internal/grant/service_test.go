package grant

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/store"
)

// fakeStore records inserted grants and simulates the idempotency index.
type fakeStore struct {
	grantedEvents map[string]bool
	insertErr     error

	inserted []*domain.ContactReward
	outbox   []*domain.OutboxMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{grantedEvents: make(map[string]bool)}
}

func (f *fakeStore) HasGrantedForEvent(_ context.Context, contactID string, promotionID uuid.UUID, eventID string) (bool, error) {
	return f.grantedEvents[contactID+"|"+promotionID.String()+"|"+eventID], nil
}

func (f *fakeStore) InsertGrants(_ context.Context, grants []*domain.ContactReward, msg *domain.OutboxMessage) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, grants...)
	if msg != nil {
		f.outbox = append(f.outbox, msg)
	}
	return nil
}

func baseRequest() Request {
	return Request{
		ContactID:          "contact-1",
		PromotionID:        uuid.New(),
		Version:            1,
		CountryISO:         "ES",
		TierLevel:          1,
		GroupID:            uuid.New(),
		SourceEventID:      "evt-1",
		GrantedAt:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		GlobalCooldownDays: 0,
	}
}

func TestGrant_OneRowPerReward(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	svc := New(fs, nil, "EUR")

	req := baseRequest()
	req.RewardIDs = []uuid.UUID{uuid.New(), uuid.New()}

	ids, err := svc.Grant(context.Background(), req)

	require.NoError(t, err)
	assert.Len(t, ids, 2)
	require.Len(t, fs.inserted, 2)

	for i, g := range fs.inserted {
		assert.Equal(t, req.ContactID, g.ContactID)
		assert.Equal(t, req.PromotionID, g.PromotionID)
		require.NotNil(t, g.RewardID)
		assert.Equal(t, req.RewardIDs[i], *g.RewardID)
		require.NotNil(t, g.GroupID)
		assert.Equal(t, req.GroupID, *g.GroupID)
		assert.Equal(t, domain.GrantStatusPending, g.Status)
		assert.True(t, g.GrantedValue.Amount.IsZero(), "granted value starts as a placeholder")
		assert.Equal(t, "EUR", g.GrantedValue.Unit)
		assert.Nil(t, g.CooldownUntil, "zero cooldown days means no cooldown")
	}

	require.Len(t, fs.outbox, 1)
	assert.Equal(t, OutboxTypeRewardGranted, fs.outbox[0].Type)

	var payload grantedPayload
	require.NoError(t, json.Unmarshal(fs.outbox[0].Payload, &payload))
	assert.Equal(t, ids, payload.GrantIDs)
	assert.Equal(t, req.RewardIDs, payload.RewardIDs)
}

func TestGrant_EmptyRewardsWritesPlaceholder(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	svc := New(fs, nil, "points")

	ids, err := svc.Grant(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Len(t, ids, 1)
	require.Len(t, fs.inserted, 1)
	assert.Nil(t, fs.inserted[0].RewardID, "a calculated grant has no reward id")
	assert.Equal(t, "points", fs.inserted[0].GrantedValue.Unit)
}

func TestGrant_CooldownUntil(t *testing.T) {
	t.Parallel()

	t.Run("tier cooldown overrides global", func(t *testing.T) {
		t.Parallel()

		fs := newFakeStore()
		svc := New(fs, nil, "EUR")

		req := baseRequest()
		tierDays := 3
		req.TierCooldownDays = &tierDays
		req.GlobalCooldownDays = 7

		_, err := svc.Grant(context.Background(), req)

		require.NoError(t, err)
		require.Len(t, fs.inserted, 1)
		require.NotNil(t, fs.inserted[0].CooldownUntil)
		assert.Equal(t, req.GrantedAt.Add(3*24*time.Hour), *fs.inserted[0].CooldownUntil)
	})

	t.Run("global cooldown is the fallback", func(t *testing.T) {
		t.Parallel()

		fs := newFakeStore()
		svc := New(fs, nil, "EUR")

		req := baseRequest()
		req.GlobalCooldownDays = 7

		_, err := svc.Grant(context.Background(), req)

		require.NoError(t, err)
		require.NotNil(t, fs.inserted[0].CooldownUntil)
		assert.Equal(t, req.GrantedAt.Add(7*24*time.Hour), *fs.inserted[0].CooldownUntil)
	})
}

func TestGrant_IdempotencyPreCheck(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	svc := New(fs, nil, "EUR")

	req := baseRequest()
	fs.grantedEvents[req.ContactID+"|"+req.PromotionID.String()+"|"+req.SourceEventID] = true

	ids, err := svc.Grant(context.Background(), req)

	require.NoError(t, err)
	assert.Empty(t, ids, "an already-granted event must be a silent no-op")
	assert.Empty(t, fs.inserted)
}

func TestGrant_IdempotencyRaceIsNoOp(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.insertErr = store.ErrDuplicateEventGrant
	svc := New(fs, nil, "EUR")

	ids, err := svc.Grant(context.Background(), baseRequest())

	require.NoError(t, err, "losing the unique-index race is not an error")
	assert.Empty(t, ids)
}
