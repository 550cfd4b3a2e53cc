package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.LeaseTTL)
	assert.Equal(t, 5*time.Minute, cfg.StalenessBound)
	assert.Equal(t, 2, cfg.RefreshWorkers)
	assert.Equal(t, 64, cfg.RefreshQueueSize)
	assert.Equal(t, "gloss", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("GLOSS_CACHE_BACKEND", "sqlite")
	t.Setenv("GLOSS_CACHE_PATH", "/tmp/test-cache.db")
	t.Setenv("GLOSS_CACHE_TTL", "90s")
	t.Setenv("GLOSS_REFRESH_WORKERS", "8")
	t.Setenv("GLOSS_STALENESS_BOUND", "2m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://test:test@db:5432/test", cfg.DatabaseURL)
	assert.Equal(t, "sqlite", cfg.CacheBackend)
	assert.Equal(t, "/tmp/test-cache.db", cfg.CachePath)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, 8, cfg.RefreshWorkers)
	assert.Equal(t, 2*time.Minute, cfg.StalenessBound)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("GLOSS_REFRESH_WORKERS", "not-a-number")
	t.Setenv("GLOSS_CACHE_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.RefreshWorkers)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}

func TestValidate(t *testing.T) {
	valid := Config{
		DatabaseURL:    "postgres://x",
		CacheBackend:   "memory",
		CacheTTL:       time.Minute,
		StalenessBound: time.Minute,
		RefreshWorkers: 1,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }},
		{"unknown cache backend", func(c *Config) { c.CacheBackend = "redis" }},
		{"sqlite without path", func(c *Config) { c.CacheBackend = "sqlite"; c.CachePath = "" }},
		{"non-positive cache ttl", func(c *Config) { c.CacheTTL = 0 }},
		{"non-positive staleness bound", func(c *Config) { c.StalenessBound = -time.Second }},
		{"non-positive workers", func(c *Config) { c.RefreshWorkers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_SQLiteWithPath(t *testing.T) {
	cfg := Config{
		DatabaseURL:    "postgres://x",
		CacheBackend:   "sqlite",
		CachePath:      "cache.db",
		CacheTTL:       time.Minute,
		StalenessBound: time.Minute,
		RefreshWorkers: 1,
	}
	assert.NoError(t, cfg.Validate())
}
