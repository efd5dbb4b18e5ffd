package runtimeapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"

	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/evaluator"
	"github.com/rafaeljc/freyr/internal/logger"
	"github.com/rafaeljc/freyr/internal/observability"
)

// EvaluateRequest is the payload of POST /api/runtime/evaluate. Ctx carries
// the raw event fields (gasto, club, esVip, eventId, ...), passed through to
// the rule engine.
type EvaluateRequest struct {
	ContactID  string         `json:"contactId"`
	CountryISO string         `json:"countryIso"`
	AsOfUTC    *time.Time     `json:"asOfUtc,omitempty"`
	Ctx        map[string]any `json:"ctx"`
}

// Sanitize normalizes string fields in place.
func (r *EvaluateRequest) Sanitize() {
	r.ContactID = strings.TrimSpace(r.ContactID)
	r.CountryISO = strings.ToUpper(strings.TrimSpace(r.CountryISO))
}

// Validate checks the request. Returns a structured error, or nil.
func (r *EvaluateRequest) Validate() *ErrorResponse {
	if r.ContactID == "" {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "contactId is required"}
	}
	if _, err := domain.NormalizeCountry(r.CountryISO); err != nil {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "countryIso must be a two-letter ISO code"}
	}
	return nil
}

// EvaluateResult is one awarded (promotion, tier, group) entry.
type EvaluateResult struct {
	PromotionID       string   `json:"promotionId"`
	Version           int      `json:"version"`
	CountryISO        string   `json:"countryIso"`
	AwardedTier       int      `json:"awardedTier"`
	ExpressionGroupID string   `json:"expressionGroupId"`
	RewardIDs         []string `json:"rewardIds"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleEvaluate processes POST /api/runtime/evaluate. The response is
// always 200 with an array (possibly empty) unless the input is malformed;
// per-promotion failures surface as missing entries, not errors.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	start := time.Now()

	var req EvaluateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload: " + err.Error()})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, *errResp)
		return
	}

	asOf := time.Now().UTC()
	if req.AsOfUTC != nil {
		asOf = req.AsOfUTC.UTC()
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	results, err := a.evaluator.Evaluate(ctx, evaluator.Request{
		ContactID:    req.ContactID,
		CountryISO:   req.CountryISO,
		AsOfUTC:      asOf,
		EventContext: req.Ctx,
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("evaluation failed", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Evaluation failed"})
		return
	}
	// On cancellation the accumulated partial results still go out.

	observability.EvaluationsTotal.WithLabelValues(req.CountryISO).Inc()
	observability.EvaluationDuration.Observe(time.Since(start).Seconds())
	if len(results) > 0 {
		observability.GrantsTotal.WithLabelValues(req.CountryISO).Add(float64(len(results)))
	}

	out := make([]EvaluateResult, len(results))
	for i, res := range results {
		rewardIDs := make([]string, len(res.RewardIDs))
		for j, id := range res.RewardIDs {
			rewardIDs[j] = id.String()
		}
		out[i] = EvaluateResult{
			PromotionID:       res.PromotionID.String(),
			Version:           res.Version,
			CountryISO:        res.CountryISO,
			AwardedTier:       res.AwardedTier,
			ExpressionGroupID: res.ExpressionGroupID.String(),
			RewardIDs:         rewardIDs,
		}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, out)
}
