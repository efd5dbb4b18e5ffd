package config

import (
	"fmt"
	"strings"
	"time"
)

// ObservabilityConfig configures the admin server each binary runs next to
// its business plane: Prometheus metrics plus liveness/readiness probes.
type ObservabilityConfig struct {
	// Port of the admin listener, separated from business traffic.
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds read/write on the admin server and the readiness walk.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	// Probe and scrape paths.
	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate checks the admin server configuration.
func (o *ObservabilityConfig) Validate() error {
	if err := validatePort(o.Port, "observability"); err != nil {
		return err
	}

	for name, path := range map[string]string{
		"liveness":  o.LivenessPath,
		"readiness": o.ReadinessPath,
		"metrics":   o.MetricsPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("observability %s path must start with '/', got %q", name, path)
		}
	}

	return nil
}
