// Package authoringapi implements the REST API for the Freyr authoring
// (control) plane: draft upsert, publish, and version reads.
package authoringapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/freyr/internal/compiler"
	"github.com/rafaeljc/freyr/internal/publisher"
	"github.com/rafaeljc/freyr/internal/store"
)

// API holds the router and the dependencies of the authoring plane.
type API struct {
	// Router is the chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	promotions store.PromotionRepository
	compiler   *compiler.Compiler
	publisher  *publisher.Service

	// apiKeyHash is the SHA-256 hash of the valid API key.
	apiKeyHash string

	// skipAuth disables authentication (test/dev environments only).
	skipAuth bool
}

// NewAPI creates the authoring API with authentication enabled.
func NewAPI(promotions store.PromotionRepository, comp *compiler.Compiler, pub *publisher.Service, apiKeyHash string) *API {
	return NewAPIWithConfig(promotions, comp, pub, apiKeyHash, false)
}

// NewAPIWithConfig creates the authoring API with explicit control over
// authentication. skipAuth is for tests and local development only.
//
// Panics on nil dependencies or on an empty apiKeyHash with auth enabled.
func NewAPIWithConfig(promotions store.PromotionRepository, comp *compiler.Compiler, pub *publisher.Service, apiKeyHash string, skipAuth bool) *API {
	if promotions == nil {
		panic("authoringapi: promotion repository cannot be nil")
	}
	if comp == nil {
		panic("authoringapi: compiler cannot be nil")
	}
	if pub == nil {
		panic("authoringapi: publisher cannot be nil")
	}
	if !skipAuth && apiKeyHash == "" {
		panic("authoringapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:     chi.NewRouter(),
		promotions: promotions,
		compiler:   comp,
		publisher:  pub,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and the endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/authoring", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)
		r.Use(metricsMiddleware)

		r.Route("/promotions", func(r chi.Router) {
			r.Post("/draft", a.handleDraftUpsert)
			r.Post("/{promotionId}/{countryIso}/publish", a.handlePublish)
			r.Get("/{promotionId}/{countryIso}", a.handleGetLatestVersion)
		})
	})
}

// handleHealthCheck reports HTTP serving capability; deep checks live on the
// observability server.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// authenticateAPIKey rejects requests whose X-API-Key does not hash to the
// configured value. The comparison is constant-time over the hex digests.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{Code: "ERR_UNAUTHORIZED", Message: "Missing API key"})
			return
		}

		sum := sha256.Sum256([]byte(key))
		digest := hex.EncodeToString(sum[:])

		if subtle.ConstantTimeCompare([]byte(digest), []byte(a.apiKeyHash)) != 1 {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{Code: "ERR_UNAUTHORIZED", Message: "Invalid API key"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
