package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-labs/vigil/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 15*time.Minute, cfg.SphereIdleWindow)
	assert.Empty(t, cfg.DBPath, "in-memory by default")
	assert.False(t, cfg.TelemetryEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VIGIL_PORT", "9000")
	t.Setenv("VIGIL_LOG_LEVEL", "debug")
	t.Setenv("VIGIL_DB_PATH", "/tmp/vigil.db")
	t.Setenv("VIGIL_SPHERE_IDLE_WINDOW", "30m")
	t.Setenv("VIGIL_SUBMIT_RPS", "2.5")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/vigil.db", cfg.DBPath)
	assert.Equal(t, 30*time.Minute, cfg.SphereIdleWindow)
	assert.Equal(t, 2.5, cfg.SubmitRPS)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("VIGIL_SWEEP_INTERVAL", "-1m")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadSampleRate(t *testing.T) {
	t.Setenv("VIGIL_TRACE_SAMPLE_RATE", "1.5")
	_, err := config.Load()
	assert.Error(t, err)
}
