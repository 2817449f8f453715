// Package observability holds the structured-logging and metrics
// configuration shared by every binary in this module.
package observability

import (
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoggingConfig controls the base logger's level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "json" or "text"
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port" json:"prometheus_port"`
}

// TracingConfig describes an optional OpenTelemetry tracer. It is carried
// as configuration only; nothing in this module constructs a tracer from it.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	Exporter       string  `yaml:"exporter" json:"exporter"` // "jaeger" or "otlp"
	JaegerEndpoint string  `yaml:"jaeger_endpoint" json:"jaeger_endpoint"`
	SampleRate     float64 `yaml:"sample_rate" json:"sample_rate"`
	ServiceName    string  `yaml:"service_name" json:"service_name"`
	ServiceVersion string  `yaml:"service_version" json:"service_version"`
}

// Config is the top-level observability section of the service config file.
type Config struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

type fileShape struct {
	Observability Config `yaml:"observability"`
}

// DefaultConfig returns the baseline observability configuration.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, PrometheusPort: 9090},
		Tracing: TracingConfig{Enabled: false, Exporter: "jaeger", SampleRate: 1.0},
	}
}

// LoadConfig reads the observability section of a YAML file, filling in
// defaults for anything the file omits. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var parsed fileShape
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return cfg, err
	}

	if parsed.Observability.Logging.Level != "" {
		cfg.Logging.Level = parsed.Observability.Logging.Level
	}
	if parsed.Observability.Logging.Format != "" {
		cfg.Logging.Format = parsed.Observability.Logging.Format
	}
	if parsed.Observability.Metrics != (MetricsConfig{}) {
		cfg.Metrics = parsed.Observability.Metrics
	}
	if parsed.Observability.Tracing != (TracingConfig{}) {
		cfg.Tracing = parsed.Observability.Tracing
	}

	return cfg, nil
}

// SaveConfig writes cfg back out as YAML under the "observability" key,
// creating parent directories as needed.
func SaveConfig(cfg Config, path string) error {
	data, err := yaml.Marshal(fileShape{Observability: cfg})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// LogConfig parameterizes NewLogger directly, bypassing the file config —
// used by tests and by callers that already resolved level/format/output.
type LogConfig struct {
	Level  string
	Format string
	Output io.Writer
}
