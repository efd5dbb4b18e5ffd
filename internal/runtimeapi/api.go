// Package runtimeapi implements the HTTP data plane: event evaluation.
package runtimeapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/freyr/internal/evaluator"
)

// API holds the router and the dependencies of the runtime plane.
type API struct {
	// Router is the chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	evaluator *evaluator.Evaluator

	// requestTimeout is the global deadline propagated into every store,
	// cache and rule-engine call of one evaluation.
	requestTimeout time.Duration
}

// NewAPI creates the runtime API. Panics on a nil evaluator.
func NewAPI(eval *evaluator.Evaluator, requestTimeout time.Duration) *API {
	if eval == nil {
		panic("runtimeapi: evaluator cannot be nil")
	}
	if requestTimeout <= 0 {
		requestTimeout = 3 * time.Second
	}

	api := &API{
		Router:         chi.NewRouter(),
		evaluator:      eval,
		requestTimeout: requestTimeout,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the middleware stack and the endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/runtime", func(r chi.Router) {
		r.Post("/evaluate", a.handleEvaluate)
	})
}

// handleHealthCheck reports HTTP serving capability; deep checks live on the
// observability server.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
