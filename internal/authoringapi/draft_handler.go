package authoringapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/rafaeljc/freyr/internal/compiler"
	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/logger"
	"github.com/rafaeljc/freyr/internal/observability"
	"github.com/rafaeljc/freyr/internal/ruleengine"
	"github.com/rafaeljc/freyr/internal/store"
)

// handleDraftUpsert processes POST /api/authoring/promotions/draft.
//
// Flow:
//  1. Decode, sanitize and validate the request DTO.
//  2. Compile the rule trees into a workflow (warnings are non-fatal).
//  3. Build the manifest from policies, window and segments.
//  4. Persist the draft version, tiers, groups and reward links in one
//     transaction; drafts are never warmed to the cache.
//  5. Return the allocated version and the compile warnings.
func (a *API) handleDraftUpsert(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req DraftUpsertRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, *errResp)
		return
	}

	// New promotions get their id here so the workflow compiles under its
	// final name.
	promotionID := uuid.New()
	if req.PromotionID != "" {
		promotionID = uuid.MustParse(req.PromotionID)
	}

	workflow, warnings, err := a.compiler.Compile(r.Context(), compilerInput(promotionID, &req))
	if err != nil {
		if errors.Is(err, compiler.ErrNoRules) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_EMPTY_WORKFLOW",
				Message: "No rule group survived compilation",
				Details: warningDetails(warnings),
			})
			return
		}
		log.Error("workflow compilation failed", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to compile workflow"})
		return
	}

	workflowPayload, err := workflow.Marshal()
	if err != nil {
		log.Error("workflow marshalling failed", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to encode workflow"})
		return
	}

	manifest := &ruleengine.Manifest{
		Policies: ruleengine.ManifestPolicies{
			GlobalCooldownDays: req.Policies.GlobalCooldownDays,
			ExclusivePerEvent:  req.Policies.ExclusivePerEvent,
			Country:            req.CountryISO,
		},
		Window: ruleengine.ManifestWindow{
			ValidFromUTC: req.Window.ValidFromUTC,
			ValidToUTC:   req.Window.ValidToUTC,
		},
		Segments: req.Segments,
	}
	manifestPayload, err := manifest.Marshal()
	if err != nil {
		log.Error("manifest marshalling failed", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to encode manifest"})
		return
	}

	params, errResp := storeParams(promotionID, &req, workflowPayload, manifestPayload)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, *errResp)
		return
	}

	version, err := a.promotions.UpsertDraft(r.Context(), *params)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "A concurrent draft upsert won the version slot",
			})
		case errors.Is(err, domain.ErrInvalidCountry):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()})
		default:
			log.Error("failed to persist draft", slog.String("error", err.Error()))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to persist draft"})
		}
		return
	}

	observability.CompileWarningsTotal.Add(float64(len(warnings)))

	log.Info("draft upserted",
		slog.String("promotion_id", promotionID.String()),
		slog.String("country", version.CountryISO),
		slog.Int("version", version.Version),
		slog.Int("warnings", len(warnings)),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, DraftUpsertResponse{
		PromotionID:  promotionID.String(),
		Version:      version.Version,
		CountryISO:   version.CountryISO,
		WorkflowName: workflow.WorkflowName,
		Warnings:     warningStrings(warnings),
	})
}

// compilerInput maps the DTO tree onto the compiler's input.
func compilerInput(promotionID uuid.UUID, req *DraftUpsertRequest) compiler.Input {
	in := compiler.Input{
		PromotionID: promotionID.String(),
		CountryISO:  req.CountryISO,
	}
	for _, tier := range req.Tiers {
		t := compiler.TierInput{
			TierLevel:    tier.TierLevel,
			Order:        tier.Order,
			CooldownDays: tier.CooldownDays,
		}
		for _, group := range tier.Groups {
			t.Groups = append(t.Groups, compiler.GroupInput{
				Order:      group.Order,
				Expression: group.Expression,
			})
		}
		in.Tiers = append(in.Tiers, t)
	}
	return in
}

// storeParams maps the DTO onto the persistence parameters, serializing each
// group's expression tree back to JSON for storage.
func storeParams(promotionID uuid.UUID, req *DraftUpsertRequest, workflowPayload, manifestPayload []byte) (*store.UpsertDraftParams, *ErrorResponse) {
	window, err := domain.NewValidityWindow(req.Window.ValidFromUTC, req.Window.ValidToUTC)
	if err != nil {
		return nil, invalidInput("window", err.Error())
	}

	params := &store.UpsertDraftParams{
		PromotionID:        promotionID,
		Name:               req.Name,
		Timezone:           req.Timezone,
		GlobalCooldownDays: req.Policies.GlobalCooldownDays,
		CountryISO:         req.CountryISO,
		Window:             window,
		WorkflowPayload:    workflowPayload,
		ManifestPayload:    manifestPayload,
	}

	for _, id := range req.GlobalRewardIDs {
		params.GlobalRewardIDs = append(params.GlobalRewardIDs, uuid.MustParse(id))
	}

	for _, tier := range req.Tiers {
		t := store.DraftTier{
			TierLevel:    tier.TierLevel,
			Order:        tier.Order,
			CooldownDays: tier.CooldownDays,
		}
		for _, group := range tier.Groups {
			expression, err := json.Marshal(group.Expression)
			if err != nil {
				return nil, invalidInput("tiers.groups.expression", "expression tree is not serializable")
			}
			g := store.DraftGroup{
				Order:             group.Order,
				ExpressionPayload: expression,
			}
			for _, id := range group.RewardIDs {
				g.RewardIDs = append(g.RewardIDs, uuid.MustParse(id))
			}
			t.Groups = append(t.Groups, g)
		}
		params.Tiers = append(params.Tiers, t)
	}

	return params, nil
}

func warningStrings(warnings []compiler.Warning) []string {
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.String()
	}
	return out
}

func warningDetails(warnings []compiler.Warning) []ErrorDetail {
	details := make([]ErrorDetail, len(warnings))
	for i, w := range warnings {
		details[i] = ErrorDetail{Field: "tiers", Issue: w.String()}
	}
	return details
}
