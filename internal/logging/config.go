package logging

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string // json | console
	Output string // stdout | stderr
	// OTEL tees entries into the OpenTelemetry log bridge when a provider
	// is passed to NewLogger.
	OTEL     bool
	Sampling SamplingConfig
	Caller   bool
	// Fields are attached to every entry.
	Fields    map[string]string
	Redaction RedactionConfig
}

// SamplingConfig thins entries below error level: per message and tick,
// the first Initial are kept, then every Thereafter-th.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig controls masking of sensitive data.
type RedactionConfig struct {
	Enabled bool
	// Keys are field names whose values are always masked. Matching is
	// case-insensitive on the whole key.
	Keys []string
}

// NewDefaultConfig returns the production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: "stderr",
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{"service": "reasond"},
		Redaction: RedactionConfig{
			Enabled: true,
			Keys: []string{
				"api_key", "authorization", "password", "secret",
				"token", "credential", "private_key",
			},
		},
	}
}

// NewConfigFrom applies the logging section of the reasond config file to
// the defaults.
func NewConfigFrom(settings config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if settings.Level != "" {
		level, err := zapcore.ParseLevel(settings.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", settings.Level, err)
		}
		cfg.Level = level
	}
	if settings.Format != "" {
		cfg.Format = settings.Format
	}
	if settings.Output != "" {
		cfg.Output = settings.Output
	}
	cfg.Sampling.Enabled = settings.Sampling
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if c.Output != "stdout" && c.Output != "stderr" {
		return fmt.Errorf("output must be 'stdout' or 'stderr', got %q", c.Output)
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
		}
		if c.Sampling.Initial < 1 {
			return fmt.Errorf("sampling initial must be >= 1, got %d", c.Sampling.Initial)
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant field %q=%q must have a key and a value", k, v)
		}
	}
	return nil
}
