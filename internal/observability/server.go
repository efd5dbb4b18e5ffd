// Package observability serves the administrative endpoints of a Freyr
// binary: Prometheus metrics plus liveness and readiness probes, on a port
// separated from business traffic.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rafaeljc/freyr/internal/config"
)

// Server is the admin HTTP server. Zero business routes live here.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	server   *http.Server
	checkers []Checker
}

// NewServer assembles the admin server. The checkers feed the readiness
// probe; pass one per hard dependency of the binary.
func NewServer(logger *slog.Logger, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		checkers: checkers,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Get(cfg.LivenessPath, s.liveness)
	r.Get(cfg.ReadinessPath, s.readiness)
	r.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())

	s.server = &http.Server{
		Addr:         net.JoinHostPort("", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		IdleTimeout:  3 * cfg.Timeout,
	}

	return s
}

// Start serves in a background goroutine and returns immediately. Serve
// failures are logged, not fatal: a broken admin port must not take the
// business plane down with it.
func (s *Server) Start() {
	go func() {
		s.logger.Info("observability server listening",
			slog.String("addr", s.server.Addr),
			slog.String("metrics_path", s.cfg.MetricsPath),
			slog.Int("checkers", len(s.checkers)),
		)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("observability server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown drains the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping observability server")
	return s.server.Shutdown(ctx)
}
