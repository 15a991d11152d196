package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", validSecret)
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, "./packs", cfg.PacksDir)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "60-S", cfg.RateLimitWsMove)
	assert.Equal(t, "30-S", cfg.RateLimitWsErase)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")

	t.Setenv("JWT_SECRET", "too-short")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestLoadValidatesPort(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "99999")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PORT", "not-a-port")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("PORT", "3001")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3001", cfg.Port)
}

func TestLoadStoreBackend(t *testing.T) {
	setRequired(t)

	t.Setenv("STORE_BACKEND", "postgres")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)

	t.Setenv("REDIS_ADDR", "no-port")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadOtel(t *testing.T) {
	setRequired(t)
	t.Setenv("OTEL_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:4317", cfg.OtelCollector)

	t.Setenv("OTEL_COLLECTOR_ADDR", "bad addr")
	_, err = Load()
	assert.Error(t, err)
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "***", redactSecret("short"))
	assert.Equal(t, "01234567***", redactSecret(validSecret))
}
