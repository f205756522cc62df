package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of environment overrides, e.g. SHELLCONN_LOG_LEVEL.
const EnvPrefix = "SHELLCONN"

// EnvOverrides are settings that may be supplied through the environment.
// Unset variables leave the file configuration untouched.
type EnvOverrides struct {
	LogLevel          string        `envconfig:"LOG_LEVEL"`
	StorePath         string        `envconfig:"STORE_PATH"`
	SecretsBackend    string        `envconfig:"SECRETS_BACKEND"`
	TelemetrySchedule string        `envconfig:"TELEMETRY_SCHEDULE"`
	KnownHosts        string        `envconfig:"KNOWN_HOSTS"`
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT"`
}

// ApplyEnv overlays environment overrides read with the given prefix.
func (c *Config) ApplyEnv(prefix string) error {
	var env EnvOverrides
	if err := envconfig.Process(prefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.StorePath != "" {
		c.Store.Path = env.StorePath
	}
	if env.SecretsBackend != "" {
		c.Secrets.Backend = env.SecretsBackend
	}
	if env.TelemetrySchedule != "" {
		c.Telemetry.Schedule = env.TelemetrySchedule
	}
	if env.KnownHosts != "" {
		c.Transport.KnownHosts = env.KnownHosts
	}
	if env.ConnectTimeout > 0 {
		c.Transport.ConnectTimeout = env.ConnectTimeout
	}
	return nil
}

// LoadWithEnv loads path, applies overrides and validates the result.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(EnvPrefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
