package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Protocol names accepted by Config.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// Config holds OTLP export configuration.
type Config struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	Protocol       string `koanf:"protocol"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`

	// Insecure disables TLS. Only allowed for local endpoints.
	Insecure bool `koanf:"insecure"`

	// SampleRate is the trace sampling ratio in [0,1]. Wrapped in a
	// parent-based sampler so propagated decisions win.
	SampleRate float64 `koanf:"sample_rate"`

	// MetricInterval is the periodic metric export interval.
	MetricInterval time.Duration `koanf:"metric_interval"`

	// ShutdownTimeout bounds provider shutdown when the caller's context
	// has no deadline.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns defaults with export disabled. Set
// Enabled=true and point Endpoint at a collector to turn it on.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		ServiceName:     "ragd",
		ServiceVersion:  "0.1.0",
		Insecure:        true,
		SampleRate:      1.0,
		MetricInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("telemetry: endpoint is required when enabled")
	}
	if c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP {
		return fmt.Errorf("telemetry: invalid protocol %q (grpc, http)", c.Protocol)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("telemetry: service_name is required when enabled")
	}
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("telemetry: insecure export to remote endpoint %q is not allowed", c.Endpoint)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("telemetry: sample_rate must be in [0,1], got %v", c.SampleRate)
	}
	if c.MetricInterval <= 0 {
		return fmt.Errorf("telemetry: metric_interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("telemetry: shutdown_timeout must be positive")
	}

	return nil
}

// isLocalEndpoint reports whether the endpoint points at this host.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)

	if strings.HasPrefix(host, "[") {
		// Bracketed IPv6, possibly with port: [::1]:4317
		if idx := strings.Index(host, "]"); idx != -1 {
			host = host[1:idx]
		}
	} else if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		host = host[:idx]
	}

	switch host {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return false
}
