package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level `koanf:"level"`
	Format string        `koanf:"format"`

	// Output selects the sink: "stdout" (default) or "stderr". Stdio
	// transports own stdout, so they log to stderr.
	Output string `koanf:"output"`

	Sampling   SamplingConfig    `koanf:"sampling"`
	Caller     CallerConfig      `koanf:"caller"`
	Stacktrace StacktraceConfig  `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"`
}

// SamplingConfig bounds log volume. Entries past Initial per second are
// kept one in every Thereafter; errors are never sampled.
type SamplingConfig struct {
	Enabled    bool `koanf:"enabled"`
	Initial    int  `koanf:"initial"`
	Thereafter int  `koanf:"thereafter"`
}

// CallerConfig controls caller annotation.
type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// StacktraceConfig controls stacktrace inclusion.
type StacktraceConfig struct {
	Level zapcore.Level `koanf:"level"`
}

// NewDefaultConfig returns production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: "stdout",
		Sampling: SamplingConfig{
			Enabled:    true,
			Initial:    100,
			Thereafter: 10,
		},
		Caller: CallerConfig{
			Enabled: true,
			Skip:    1,
		},
		Stacktrace: StacktraceConfig{
			Level: zapcore.ErrorLevel,
		},
		Fields: map[string]string{
			"service": "ragd",
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("logging: format must be 'json' or 'console', got %q", c.Format)
	}
	switch c.Output {
	case "", "stdout", "stderr":
	default:
		return fmt.Errorf("logging: output must be 'stdout' or 'stderr', got %q", c.Output)
	}
	if c.Sampling.Enabled {
		if c.Sampling.Initial <= 0 {
			return fmt.Errorf("logging: sampling initial must be > 0, got %d", c.Sampling.Initial)
		}
		if c.Sampling.Thereafter < 0 {
			return fmt.Errorf("logging: sampling thereafter must be >= 0, got %d", c.Sampling.Thereafter)
		}
	}
	if c.Caller.Enabled && c.Caller.Skip < 0 {
		return fmt.Errorf("logging: caller skip must be >= 0, got %d", c.Caller.Skip)
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("logging: field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("logging: field %q has empty value", k)
		}
	}
	return nil
}
