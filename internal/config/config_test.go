package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SESSION_TTL", "")
	t.Setenv("RATE_LIMIT_WHITELIST", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Empty(t, cfg.RateLimitWhitelist)
	assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "staging")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 192.168.0.0/16,,")
	t.Setenv("AUTO_BLOCK_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.RateLimitWhitelist)
	assert.True(t, cfg.AutoBlockEnabled)
}

func TestLoadProductionRequiresArchive(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("SQLITE_PATH", "/tmp/deskchat.db")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoadRejectsBadTTL(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("SESSION_TTL", "-1s")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadCORSOrigins(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://support.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://support.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)

	t.Setenv("CORS_ALLOWED_ORIGINS", "*")
	_, err = Load()
	assert.Error(t, err)
}
