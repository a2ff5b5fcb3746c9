// Package config loads chatsync client configuration from a YAML file. All
// values are optional and fall back to defaults suitable for a locally
// running answer service.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents a chatsync.yaml configuration file.
type Config struct {
	// BackendURL is the base URL of the answer-generation service.
	BackendURL string `yaml:"backend_url"`
	// AuthToken, when set, is sent as a bearer token on every request.
	AuthToken string `yaml:"auth_token"`
	// Mode is the backend processing-mode flag sent with every turn.
	Mode string `yaml:"mode"`
	// TurnCost is the credit amount reserved per turn.
	TurnCost int `yaml:"turn_cost"`
	// RequestTimeout bounds non-streaming requests (skip-search). The turn
	// stream itself carries no wall-clock timeout; stream-closed is the de
	// facto timeout signal.
	RequestTimeout Duration `yaml:"request_timeout"`
	// DatabasePath, when set, enables the SQLite conversation gateway.
	DatabasePath string `yaml:"database_path"`
	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logger defaults from the config file.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		BackendURL:     "http://localhost:5000",
		TurnCost:       1,
		RequestTimeout: Duration{10 * time.Second},
		Logging:        LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads a config file, layering it over the defaults. A missing file is
// not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url must not be empty")
	}
	if c.TurnCost < 0 {
		return fmt.Errorf("turn_cost must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}
