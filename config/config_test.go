package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swfrench/gosession/config"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, config.Persistent, cfg.SessionMode)
	assert.Equal(t, config.Simple, cfg.SecurityMode)
	assert.Equal(t, config.Cookie, cfg.TransportMode)
	assert.Equal(t, 6*time.Hour, cfg.Lifespan)
	assert.Equal(t, 60*24*time.Hour, cfg.MaxLifespan)
	assert.Equal(t, 60*time.Minute, cfg.Memory.MemoryLifespan)
	assert.Equal(t, uint(100_000), cfg.Memory.FilterExpectedElements)
	assert.Equal(t, "sessions", cfg.Database.TableName)
	assert.Equal(t, "session", cfg.Cookie.SessionName)
	assert.True(t, cfg.ClearCheckOnLoad)
	assert.NotNil(t, cfg.IDGenerator)
}

func TestSessionModePredicates(t *testing.T) {
	assert.True(t, config.OptIn.IsOptIn())
	assert.False(t, config.Persistent.IsOptIn())
	assert.True(t, config.Manual.IsManual())
	assert.False(t, config.Persistent.IsManual())
	assert.True(t, config.OptIn.IsStorable())
	assert.True(t, config.Manual.IsStorable())
	assert.False(t, config.Persistent.IsStorable())
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("DATABASE_TABLE_NAME", "custom_sessions")
	t.Setenv("MEMORY_LIFESPAN", "15m")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "custom_sessions", cfg.Database.TableName)
	assert.Equal(t, 15*time.Minute, cfg.Memory.MemoryLifespan)
	// Unset variables keep their defaults.
	assert.Equal(t, 6*time.Hour, cfg.Lifespan)
}
