package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Token.Secret = "a-real-secret"
	cfg.Heartbeat.TTL = 60 * time.Second
	cfg.Timeout.Threshold = 2 * time.Minute
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("EmptySecretRefused", func(t *testing.T) {
		cfg := validConfig()
		cfg.Token.Secret = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("DefaultSecretRefused", func(t *testing.T) {
		cfg := validConfig()
		cfg.Token.Secret = "change-me"
		assert.Error(t, cfg.Validate())
	})

	t.Run("NonPositiveTTLRefused", func(t *testing.T) {
		cfg := validConfig()
		cfg.Heartbeat.TTL = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("GOATCHAT_TOKEN_SECRET", "env-secret")
	t.Setenv("GOATCHAT_TIMEOUT_THRESHOLD", "5m")
	t.Setenv("GOATCHAT_HEARTBEAT_TTL", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Token.Secret)
	assert.Equal(t, 5*time.Minute, cfg.Timeout.Threshold)
	assert.Equal(t, 90*time.Second, cfg.Heartbeat.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Token.TTL)
	assert.Equal(t, 10, cfg.Agent.DefaultCapacity)
}
