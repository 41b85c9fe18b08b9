package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poe-platform/poe-protocol/pkg/poe"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"POE_ACCESS_KEY", "POE_API_KEY", "POE_BASE_URL",
		"POE_HOST", "POE_PORT", "POE_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.AccessKey)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, poe.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("POE_ACCESS_KEY", "ak")
	t.Setenv("POE_API_KEY", "pk")
	t.Setenv("POE_BASE_URL", "http://localhost:9000/bot/")
	t.Setenv("POE_HOST", "127.0.0.1")
	t.Setenv("POE_PORT", "9001")
	t.Setenv("POE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ak", cfg.AccessKey)
	assert.Equal(t, "pk", cfg.APIKey)
	assert.Equal(t, "http://localhost:9000/bot/", cfg.BaseURL)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("POE_PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POE_PORT")
}
