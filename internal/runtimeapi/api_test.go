package runtimeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/evaluator"
	"github.com/rafaeljc/freyr/internal/grant"
	"github.com/rafaeljc/freyr/internal/provider"
	"github.com/rafaeljc/freyr/internal/ruleengine"
	"github.com/rafaeljc/freyr/internal/segment"
)

// emptyProvider serves no active promotions.
type emptyProvider struct{}

func (emptyProvider) Active(context.Context, string, time.Time) ([]provider.ActivePromotion, error) {
	return nil, nil
}

// emptyStore backs an evaluator with no data.
type emptyStore struct{}

func (emptyStore) TiersForPromotion(context.Context, uuid.UUID) ([]*domain.RuleTier, error) {
	return nil, nil
}
func (emptyStore) GroupsForTier(context.Context, uuid.UUID) ([]*domain.RuleExpressionGroup, error) {
	return nil, nil
}
func (emptyStore) GlobalRewards(context.Context, uuid.UUID) ([]*domain.Reward, error) {
	return nil, nil
}
func (emptyStore) GroupRewards(context.Context, uuid.UUID) ([]*domain.Reward, error) {
	return nil, nil
}
func (emptyStore) LastGranted(context.Context, string, uuid.UUID) (*domain.ContactReward, error) {
	return nil, nil
}
func (emptyStore) LastGrantedForTier(context.Context, string, uuid.UUID, int) (*domain.ContactReward, error) {
	return nil, nil
}
func (emptyStore) HasGrantedForEvent(context.Context, string, uuid.UUID, string) (bool, error) {
	return false, nil
}
func (emptyStore) InsertGrants(context.Context, []*domain.ContactReward, *domain.OutboxMessage) error {
	return nil
}

func newTestAPI(t *testing.T) *API {
	t.Helper()

	engine, err := ruleengine.New(nil, ruleengine.Config{})
	require.NoError(t, err)

	st := emptyStore{}
	eval := evaluator.New(emptyProvider{}, segment.Noop{}, st, engine, grant.New(st, nil, "EUR"), nil, nil)
	return NewAPI(eval, time.Second)
}

func post(t *testing.T, api *API, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/runtime/evaluate", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Router.ServeHTTP(rec, req)
	return rec
}

func TestEvaluate_EmptyActiveSetReturnsEmptyArray(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	rec := post(t, api, EvaluateRequest{
		ContactID:  "C",
		CountryISO: "es",
		Ctx:        map[string]any{"gasto": 60.0, "eventId": "e1"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String(), "an empty result is an array, never null")
}

func TestEvaluate_MalformedInputIs400(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	t.Run("missing contact id", func(t *testing.T) {
		t.Parallel()

		rec := post(t, api, EvaluateRequest{CountryISO: "ES"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad country", func(t *testing.T) {
		t.Parallel()

		rec := post(t, api, EvaluateRequest{ContactID: "C", CountryISO: "SPAIN"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodPost, "/api/runtime/evaluate", bytes.NewReader([]byte("{oops")))
		rec := httptest.NewRecorder()
		api.Router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEvaluate_HealthEndpoint(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	api.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
