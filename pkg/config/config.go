// Package config loads vigild configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds server configuration. Every field has a VIGIL_-prefixed
// environment variable and a safe development default.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// DBPath is the SQLite file backing the ledger and checkpoint
	// stores. Empty runs fully in memory.
	DBPath string `env:"DB_PATH"`

	// PolicyProfile is a YAML profile path. Empty uses the built-in
	// default profile.
	PolicyProfile string `env:"POLICY_PROFILE"`

	SphereIdleWindow time.Duration `env:"SPHERE_IDLE_WINDOW" envDefault:"15m"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	SubmitRPS   float64 `env:"SUBMIT_RPS" envDefault:"10"`
	SubmitBurst int     `env:"SUBMIT_BURST" envDefault:"20"`

	TelemetryEnabled bool    `env:"TELEMETRY_ENABLED" envDefault:"false"`
	OTLPEndpoint     string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTLPInsecure     bool    `env:"OTLP_INSECURE" envDefault:"true"`
	TraceSampleRate  float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1.0"`
	Environment      string  `env:"ENVIRONMENT" envDefault:"development"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "VIGIL_"}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SphereIdleWindow <= 0 {
		return fmt.Errorf("config: sphere idle window must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: sweep interval must be positive")
	}
	if c.SubmitRPS < 0 {
		return fmt.Errorf("config: submit rps must not be negative")
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("config: trace sample rate must be within [0,1]")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}
