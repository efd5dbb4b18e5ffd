package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingGrant(t *testing.T) *ContactReward {
	t.Helper()

	grant, err := NewContactReward("contact-1", uuid.New(), nil, nil, 1, time.Now(), ZeroMonetaryValue("EUR"), nil, "evt-1")
	require.NoError(t, err)
	return grant
}

func TestContactReward_Transition(t *testing.T) {
	t.Parallel()

	t.Run("pending to granted", func(t *testing.T) {
		t.Parallel()

		grant := newPendingGrant(t)

		require.NoError(t, grant.Transition(GrantStatusGranted))
		assert.Equal(t, GrantStatusGranted, grant.Status)
	})

	t.Run("pending to rejected", func(t *testing.T) {
		t.Parallel()

		grant := newPendingGrant(t)

		require.NoError(t, grant.Transition(GrantStatusRejected))
		assert.Equal(t, GrantStatusRejected, grant.Status)
	})

	t.Run("granted is terminal", func(t *testing.T) {
		t.Parallel()

		grant := newPendingGrant(t)
		require.NoError(t, grant.Transition(GrantStatusGranted))

		err := grant.Transition(GrantStatusRejected)

		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, GrantStatusGranted, grant.Status, "status must not change on a rejected transition")
	})

	t.Run("rejected is terminal", func(t *testing.T) {
		t.Parallel()

		grant := newPendingGrant(t)
		require.NoError(t, grant.Transition(GrantStatusRejected))

		assert.ErrorIs(t, grant.Transition(GrantStatusGranted), ErrInvalidTransition)
	})

	t.Run("pending to pending is illegal", func(t *testing.T) {
		t.Parallel()

		grant := newPendingGrant(t)

		assert.ErrorIs(t, grant.Transition(GrantStatusPending), ErrInvalidTransition)
	})
}

func TestEffectiveCooldownDays(t *testing.T) {
	t.Parallel()

	tierDays := 3

	assert.Equal(t, 3, EffectiveCooldownDays(&tierDays, 7), "tier cooldown overrides global")
	assert.Equal(t, 7, EffectiveCooldownDays(nil, 7), "global cooldown is the fallback")

	zero := 0
	assert.Equal(t, 0, EffectiveCooldownDays(&zero, 7), "an explicit zero tier cooldown wins")
}

func TestCooldownUntil(t *testing.T) {
	t.Parallel()

	grantedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	until := CooldownUntil(grantedAt, 7)
	require.NotNil(t, until)
	assert.Equal(t, grantedAt.Add(7*24*time.Hour), *until)

	assert.Nil(t, CooldownUntil(grantedAt, 0), "zero days means no cooldown")
	assert.Nil(t, CooldownUntil(grantedAt, -1))
}

func TestMonetaryValue(t *testing.T) {
	t.Parallel()

	_, err := NewMonetaryValue(ZeroMonetaryValue("EUR").Amount, "  ")
	assert.Error(t, err, "blank unit must be rejected")

	v := ZeroMonetaryValue("points")
	assert.True(t, v.Amount.IsZero())
	assert.Equal(t, "points", v.Unit)
	assert.True(t, v.Equal(ZeroMonetaryValue("points")))
	assert.False(t, v.Equal(ZeroMonetaryValue("EUR")))
}
