package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-rem/pkg/config"
)

var remEnv = []string{
	"REM_LISTEN_ADDR", "REM_HEALTH_ADDR", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "REM_DATA_DIR",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REM_ORACLE_BACKEND", "REM_REGISTRY_BACKEND",
	"REM_REQUIRE_REGISTERED_APPROVER", "REM_JWT_SECRET", "REM_RATE_LIMIT_RPS", "REM_RATE_LIMIT_BURST",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "REM_PROFILE",
}

func clearEnv(t *testing.T) {
	for _, k := range remEnv {
		t.Setenv(k, "")
	}
}

// TestLoad_Defaults verifies the server boots with fail-closed defaults.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, ":8081", cfg.HealthAddr)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.LiteMode())
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, config.OracleSQL, cfg.OracleBackend)
	assert.Equal(t, config.RegistrySQL, cfg.RegistryBackend)
	assert.True(t, cfg.RequireRegisteredApprover)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, 50.0, cfg.RateLimitRPS)
	assert.Equal(t, 100, cfg.RateLimitBurst)
	assert.False(t, cfg.OTelEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("REM_LISTEN_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://rem@db:5432/rem")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REM_ORACLE_BACKEND", "Redis")
	t.Setenv("REM_REQUIRE_REGISTERED_APPROVER", "false")
	t.Setenv("REM_RATE_LIMIT_RPS", "2.5")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := config.Load()

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.False(t, cfg.LiteMode())
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, config.OracleRedis, cfg.OracleBackend)
	assert.False(t, cfg.RequireRegisteredApprover)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.True(t, cfg.OTelEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_GarbageFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("REM_RATE_LIMIT_RPS", "fast")
	t.Setenv("REM_REQUIRE_REGISTERED_APPROVER", "maybe")
	t.Setenv("REDIS_DB", "x")

	cfg := config.Load()
	assert.Equal(t, 50.0, cfg.RateLimitRPS)
	assert.True(t, cfg.RequireRegisteredApprover)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestValidate_RejectsUnknownBackends(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()
	cfg.OracleBackend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = config.Load()
	cfg.RegistryBackend = "ldap"
	assert.Error(t, cfg.Validate())

	cfg = config.Load()
	cfg.RateLimitBurst = 0
	assert.Error(t, cfg.Validate())
}

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
version: 1.2.0
name: treasury
require_registered_approver: false
oracle_backend: static
registry_backend: memory
custodians:
  - id: treasury-ops
    key_id: k1
    public_key: "04aa"
authorized_intents:
  - "0000000000000000000000000000000000000000000000000000000000000000"
`)
	p, err := config.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "treasury", p.Name)
	require.Len(t, p.Custodians, 1)
	assert.Equal(t, "treasury-ops", p.Custodians[0].ID)
	assert.Len(t, p.AuthorizedIntents, 1)

	clearEnv(t)
	cfg := config.Load()
	cfg.ApplyProfile(p)
	assert.False(t, cfg.RequireRegisteredApprover)
	assert.Equal(t, config.OracleStatic, cfg.OracleBackend)
	assert.Equal(t, config.RegistryMemory, cfg.RegistryBackend)
}

func TestLoadProfile_VersionRange(t *testing.T) {
	_, err := config.LoadProfile(writeProfile(t, "version: 2.0.0\n"))
	assert.ErrorContains(t, err, "outside supported range")

	_, err = config.LoadProfile(writeProfile(t, "name: x\n"))
	assert.ErrorContains(t, err, "version is required")

	_, err = config.LoadProfile(writeProfile(t, "version: one\n"))
	assert.ErrorContains(t, err, "invalid version")

	_, err = config.LoadProfile(writeProfile(t, "version: 1.0.0\ncustodians:\n  - id: a\n"))
	assert.Error(t, err)

	_, err = config.LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
