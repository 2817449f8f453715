// Package config loads Taskcast's YAML configuration file, applies
// ${VAR}-style environment interpolation, and layers environment
// variable overrides on top, grounded on the teacher's
// file_loader.go/env_expand.go/layered.go functional-options loader.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/taskcast/taskcast/internal/auth"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// EnvLookup resolves an environment variable name, mirroring os.LookupEnv's
// signature so tests can substitute a fake.
type EnvLookup func(key string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// JWTFileConfig is the YAML shape of auth.jwt.
type JWTFileConfig struct {
	Algorithm     string `yaml:"algorithm"`
	Secret        string `yaml:"secret"`
	PublicKey     string `yaml:"publicKey"`
	PublicKeyFile string `yaml:"publicKeyFile"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

// AuthFileConfig is the YAML shape of the auth section.
type AuthFileConfig struct {
	Mode string        `yaml:"mode"`
	JWT  JWTFileConfig `yaml:"jwt"`
}

// AdaptersFileConfig names the backend URL for each pluggable adapter.
// An empty URL selects the in-memory backend for that adapter.
type AdaptersFileConfig struct {
	Broadcast string `yaml:"broadcast"`
	ShortTerm string `yaml:"shortTerm"`
	LongTerm  string `yaml:"longTerm"`
}

// WebhookFileConfig is the YAML shape of the webhook section.
type WebhookFileConfig struct {
	DefaultRetry task.RetryConfig `yaml:"defaultRetry"`
}

// CleanupFileConfig is the YAML shape of the cleanup section: a set of
// globally-applied rules, layered beneath any rules a task supplies itself.
type CleanupFileConfig struct {
	Rules []task.CleanupRule `yaml:"rules"`
}

// FileConfig mirrors the on-disk YAML shape before env interpolation.
type FileConfig struct {
	Port     string              `yaml:"port"`
	LogLevel string              `yaml:"logLevel"`
	Auth     *AuthFileConfig     `yaml:"auth"`
	Adapters *AdaptersFileConfig `yaml:"adapters"`
	Webhook  *WebhookFileConfig  `yaml:"webhook"`
	Cleanup  *CleanupFileConfig  `yaml:"cleanup"`
}

// Config is the fully-resolved runtime configuration: file values,
// ${VAR}-interpolated, then overridden by environment variables, then
// defaulted.
type Config struct {
	Port      string
	LogLevel  string
	AuthMode  auth.Mode
	JWT       auth.JWTConfig
	Broadcast string
	ShortTerm string
	LongTerm  string
	Webhook   task.RetryConfig
	Cleanup   []task.CleanupRule
}

// Option customizes Load's behavior, matching the teacher's
// functional-options loader shape.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	configPath string
}

// WithEnv supplies a custom environment lookup, used by tests.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader injects a custom file reader, used by tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = reader }
}

// WithConfigPath forces Load to read from a specific file path.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

const defaultConfigPathEnv = "TASKCAST_CONFIG"

// Load resolves the runtime Config: defaults, then the YAML file (if one
// is found), then ${VAR} interpolation against envLookup, then direct
// TASKCAST_* environment variable overrides.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{envLookup: DefaultEnvLookup, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(&options)
	}

	fileCfg, err := loadFile(options)
	if err != nil {
		return Config{}, err
	}
	fileCfg = expandFileConfigEnv(options.envLookup, fileCfg)

	cfg := defaultConfig()
	applyFileConfig(&cfg, fileCfg)
	applyEnvOverrides(&cfg, options.envLookup)
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Port:     "8080",
		LogLevel: "info",
		AuthMode: auth.ModeNone,
		Webhook: task.RetryConfig{
			Retries: 3, Backoff: task.BackoffExponential,
			InitialDelayMs: 200, MaxDelayMs: 5000, TimeoutMs: 10000,
		},
	}
}

func loadFile(options loadOptions) (FileConfig, error) {
	path := options.configPath
	if path == "" {
		if resolved, ok := options.envLookup(defaultConfigPathEnv); ok && resolved != "" {
			path = resolved
		}
	}
	if path == "" {
		return FileConfig{}, nil
	}

	data, err := options.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("config: read file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return FileConfig{}, nil
	}

	var parsed FileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return FileConfig{}, fmt.Errorf("config: parse file: %w", err)
	}
	return parsed, nil
}

func applyFileConfig(cfg *Config, f FileConfig) {
	if f.Port != "" {
		cfg.Port = f.Port
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Auth != nil {
		if f.Auth.Mode != "" {
			cfg.AuthMode = auth.Mode(f.Auth.Mode)
		}
		cfg.JWT = auth.JWTConfig{
			Algorithm:     f.Auth.JWT.Algorithm,
			Secret:        f.Auth.JWT.Secret,
			PublicKey:     f.Auth.JWT.PublicKey,
			PublicKeyFile: f.Auth.JWT.PublicKeyFile,
			Issuer:        f.Auth.JWT.Issuer,
			Audience:      f.Auth.JWT.Audience,
		}
	}
	if f.Adapters != nil {
		cfg.Broadcast = f.Adapters.Broadcast
		cfg.ShortTerm = f.Adapters.ShortTerm
		cfg.LongTerm = f.Adapters.LongTerm
	}
	if f.Webhook != nil {
		cfg.Webhook = f.Webhook.DefaultRetry
	}
	if f.Cleanup != nil {
		cfg.Cleanup = f.Cleanup.Rules
	}
}

// applyEnvOverrides lets TASKCAST_* environment variables win over the
// file, matching the teacher's layered env-precedence convention.
func applyEnvOverrides(cfg *Config, lookup EnvLookup) {
	if v, ok := lookup("TASKCAST_PORT"); ok && v != "" {
		cfg.Port = v
	}
	if v, ok := lookup("TASKCAST_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("TASKCAST_AUTH_MODE"); ok && v != "" {
		cfg.AuthMode = auth.Mode(v)
	}
	if v, ok := lookup("TASKCAST_JWT_SECRET"); ok && v != "" {
		cfg.JWT.Secret = v
	}
	if v, ok := lookup("TASKCAST_ADAPTERS_BROADCAST"); ok && v != "" {
		cfg.Broadcast = v
	}
	if v, ok := lookup("TASKCAST_ADAPTERS_SHORT_TERM"); ok && v != "" {
		cfg.ShortTerm = v
	}
	if v, ok := lookup("TASKCAST_ADAPTERS_LONG_TERM"); ok && v != "" {
		cfg.LongTerm = v
	}
}

func expandEnvValue(lookup EnvLookup, value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if resolved, ok := lookup(key); ok {
			return resolved
		}
		return ""
	})
}

func expandFileConfigEnv(lookup EnvLookup, f FileConfig) FileConfig {
	f.Port = expandEnvValue(lookup, f.Port)
	f.LogLevel = expandEnvValue(lookup, f.LogLevel)
	if f.Auth != nil {
		f.Auth.JWT.Secret = expandEnvValue(lookup, f.Auth.JWT.Secret)
		f.Auth.JWT.PublicKey = expandEnvValue(lookup, f.Auth.JWT.PublicKey)
		f.Auth.JWT.PublicKeyFile = expandEnvValue(lookup, f.Auth.JWT.PublicKeyFile)
		f.Auth.JWT.Issuer = expandEnvValue(lookup, f.Auth.JWT.Issuer)
		f.Auth.JWT.Audience = expandEnvValue(lookup, f.Auth.JWT.Audience)
	}
	if f.Adapters != nil {
		f.Adapters.Broadcast = expandEnvValue(lookup, f.Adapters.Broadcast)
		f.Adapters.ShortTerm = expandEnvValue(lookup, f.Adapters.ShortTerm)
		f.Adapters.LongTerm = expandEnvValue(lookup, f.Adapters.LongTerm)
	}
	return f
}

// ParsePort returns cfg.Port as an integer, defaulting to 8080 on a
// malformed value.
func (c Config) ParsePort() int {
	n, err := strconv.Atoi(c.Port)
	if err != nil || n <= 0 {
		return 8080
	}
	return n
}
