package observability

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// probeReport is the readiness response body. Orchestrators only read the
// status code; the per-dependency map is for humans.
type probeReport struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// liveness answers 200 while the process can serve HTTP at all.
func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every registered checker in sequence under the server's
// probe budget. Checkers bound their own per-dependency timeout, so the
// walk is deterministic and a single slow backend cannot starve the rest.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	report := probeReport{
		Status:       "up",
		Dependencies: make(map[string]string, len(s.checkers)),
	}

	for _, checker := range s.checkers {
		if err := checker.Check(r.Context()); err != nil {
			// Warn, not error: orchestrators retry readiness on their own.
			s.logger.Warn("readiness probe failed",
				slog.String("dependency", checker.Name()),
				slog.String("error", err.Error()),
			)
			report.Status = "down"
			report.Dependencies[checker.Name()] = err.Error()
			continue
		}
		report.Dependencies[checker.Name()] = "up"
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
