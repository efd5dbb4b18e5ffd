package authoringapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/logger"
	"github.com/rafaeljc/freyr/internal/store"
)

// handlePublish processes
// POST /api/authoring/promotions/{promotionId}/{countryIso}/publish.
//
// Publishing flips the latest version's draft flag, writes the outbox event
// in the same transaction, and warms the cache best-effort. Re-publishing an
// already-published version is a no-op that returns the same version.
func (a *API) handlePublish(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	promotionID, err := uuid.Parse(chi.URLParam(r, "promotionId"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "promotionId must be a UUID"})
		return
	}

	countryISO := chi.URLParam(r, "countryIso")
	if _, err := domain.NormalizeCountry(countryISO); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "countryIso must be a two-letter ISO code"})
		return
	}

	result, err := a.publisher.Publish(r.Context(), promotionID, countryISO)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "No version exists for this promotion and country",
			})
			return
		}
		log.Error("publish failed",
			slog.String("promotion_id", promotionID.String()),
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to publish version"})
		return
	}

	log.Info("version published",
		slog.String("promotion_id", result.PromotionID.String()),
		slog.String("country", result.CountryISO),
		slog.Int("version", result.Version),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PublishResponse{
		PromotionID: result.PromotionID.String(),
		CountryISO:  result.CountryISO,
		Version:     result.Version,
	})
}

// handleGetLatestVersion processes
// GET /api/authoring/promotions/{promotionId}/{countryIso}.
// It serves authoring UIs the latest version, draft or published.
func (a *API) handleGetLatestVersion(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	promotionID, err := uuid.Parse(chi.URLParam(r, "promotionId"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "promotionId must be a UUID"})
		return
	}

	version, err := a.promotions.GetLatestVersion(r.Context(), promotionID, chi.URLParam(r, "countryIso"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{Code: "ERR_NOT_FOUND", Message: "No version exists for this promotion and country"})
		case errors.Is(err, domain.ErrInvalidCountry):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "countryIso must be a two-letter ISO code"})
		default:
			log.Error("failed to load version", slog.String("error", err.Error()))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to load version"})
		}
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VersionResponse{
		PromotionID: version.PromotionID.String(),
		CountryISO:  version.CountryISO,
		Version:     version.Version,
		IsDraft:     version.IsDraft,
		Workflow:    version.WorkflowPayload,
		Manifest:    version.ManifestPayload,
		CreatedAt:   version.CreatedAt,
	})
}
