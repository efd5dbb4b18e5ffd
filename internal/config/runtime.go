package config

import "time"

// RuntimeConfig configures the evaluation (data plane) HTTP server. Shorter
// timeouts than the authoring plane: evaluation requests are machine-speed.
type RuntimeConfig struct {
	Port              string        `envconfig:"PORT" default:"8081"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"2s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	// RequestTimeout is the global deadline propagated into every store,
	// cache and rule-engine call of one evaluation.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"3s" validate:"gt=0"`
}

// Validate performs validation on the RuntimeConfig.
func (c *RuntimeConfig) Validate() error {
	return validateListenAddr(c.Host, c.Port, "runtime")
}
