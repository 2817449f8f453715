package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskcast/taskcast/internal/auth"
)

func fakeEnv(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadAppliesDefaultsWhenNoFileOrEnv(t *testing.T) {
	cfg, err := Load(WithEnv(fakeEnv(nil)))
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, auth.ModeNone, cfg.AuthMode)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	yamlBody := []byte(`
port: "9090"
logLevel: debug
auth:
  mode: jwt
  jwt:
    algorithm: HS256
    secret: ${JWT_SECRET}
    issuer: taskcast
adapters:
  broadcast: redis://localhost:6379
  shortTerm: redis://localhost:6379
webhook:
  defaultRetry:
    retries: 5
    backoff: linear
    initialDelayMs: 100
    maxDelayMs: 2000
    timeoutMs: 8000
`)
	reader := func(path string) ([]byte, error) { return yamlBody, nil }
	env := fakeEnv(map[string]string{"JWT_SECRET": "super-secret"})

	cfg, err := Load(WithConfigPath("/fake/config.yaml"), WithFileReader(reader), WithEnv(env))
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, auth.ModeJWT, cfg.AuthMode)
	require.Equal(t, "super-secret", cfg.JWT.Secret)
	require.Equal(t, "taskcast", cfg.JWT.Issuer)
	require.Equal(t, "redis://localhost:6379", cfg.Broadcast)
	require.Equal(t, 5, cfg.Webhook.Retries)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	reader := func(path string) ([]byte, error) { return nil, os.ErrNotExist }
	cfg, err := Load(WithConfigPath("/does/not/exist.yaml"), WithFileReader(reader), WithEnv(fakeEnv(nil)))
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	yamlBody := []byte(`port: "9090"`)
	reader := func(path string) ([]byte, error) { return yamlBody, nil }
	env := fakeEnv(map[string]string{"TASKCAST_PORT": "7000"})

	cfg, err := Load(WithConfigPath("/fake/config.yaml"), WithFileReader(reader), WithEnv(env))
	require.NoError(t, err)
	require.Equal(t, "7000", cfg.Port)
}

func TestParsePortFallsBackOnMalformedValue(t *testing.T) {
	cfg := Config{Port: "not-a-number"}
	require.Equal(t, 8080, cfg.ParsePort())
}
