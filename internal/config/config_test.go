package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("LBOT_LOG_LEVEL", "")
	t.Setenv("LBOT_WORKER_COUNT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, "system", cfg.ClockMode)
	assert.False(t, cfg.ResourceGuardEnabled)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("LBOT_LOG_LEVEL", "debug")
	t.Setenv("LBOT_CLOCK_MODE", "custom")
	t.Setenv("LBOT_RESOURCE_GUARD_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "custom", cfg.ClockMode)
	assert.True(t, cfg.ResourceGuardEnabled)
}

func TestGetStringResolvesReservedKeys(t *testing.T) {
	cfg := &Config{ClockMode: "steady", ReplayBufferSize: 512}

	v, ok := cfg.GetString("/lbot/clock_mode")
	require.True(t, ok)
	assert.Equal(t, "steady", v)

	v, ok = cfg.GetString("/lbot/replay_buffer_size")
	require.True(t, ok)
	assert.Equal(t, "512", v)
}

func TestGetStringReservedKeyHonorsOverride(t *testing.T) {
	cfg := &Config{ClockMode: "system"}
	cfg.Set("/lbot/clock_mode", "custom")

	v, ok := cfg.GetString("/lbot/clock_mode")
	require.True(t, ok)
	assert.Equal(t, "custom", v)
}

func TestGetStringUnknownKeyUsesOverridesOnly(t *testing.T) {
	cfg := &Config{}

	_, ok := cfg.GetString("/app/unknown")
	assert.False(t, ok)

	cfg.Set("/app/unknown", "value")
	v, ok := cfg.GetString("/app/unknown")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestPrintDoesNotPanic(t *testing.T) {
	cfg := &Config{LogLevel: "info", LogFormat: "console", ClockMode: "system"}
	var lines []string
	cfg.Print(func(format string, args ...any) {
		lines = append(lines, format)
	})
	assert.NotEmpty(t, lines)
}
