package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.topstepx.com/api", cfg.Gateway.BaseURL)
	assert.Equal(t, "api-key", cfg.Gateway.AuthMode)
	assert.Equal(t, 3, cfg.Gateway.MaxRetries)

	// Published gateway budgets: 200/60s general, 50/30s historical.
	assert.Equal(t, 200, cfg.Gateway.GeneralLane.MaxRequests)
	assert.Equal(t, 60, cfg.Gateway.GeneralLane.WindowSeconds)
	assert.Equal(t, 50, cfg.Gateway.HistoricalLane.MaxRequests)
	assert.Equal(t, 30, cfg.Gateway.HistoricalLane.WindowSeconds)

	assert.Equal(t, 1, cfg.Realtime.ReconnectDelaySeconds)
	assert.Equal(t, 60, cfg.Realtime.ReconnectMaxDelaySeconds)

	assert.Equal(t, "America/Chicago", cfg.Risk.Timezone)
	assert.Equal(t, "17:00", cfg.Risk.SessionOpen)
	assert.Equal(t, "15:10", cfg.Risk.SessionClose)
	assert.Equal(t, 0.95, cfg.Risk.DailyLossHaltFraction)
	assert.Equal(t, 0.05, cfg.Risk.DrawdownBuffer)
	assert.Equal(t, 0.8, cfg.Risk.DailyBudgetFraction)

	assert.Empty(t, cfg.Accounts, "accounts only come from an explicit config file")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TOPSTEP_GATEWAY_MAX_RETRIES", "5")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Gateway.MaxRetries)
}
