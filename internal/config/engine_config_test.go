package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `{
	"account": {"initial_balance": 50000},
	"limits": {
		"max_daily_loss": 1000,
		"max_trailing_drawdown": 2000,
		"max_position_size": 5,
		"trade_limit_per_day": 20,
		"trade_limit_per_week": 60,
		"allowed_markets": ["MES", "MNQ"]
	},
	"sleeves": [
		{"id": "mm", "kind": "maker", "market": "MES", "quantity": 1},
		{"id": "trend", "kind": "trend", "market": "MNQ", "quantity": 1, "disabled": true}
	]
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "America/Chicago", cfg.Session.Timezone)
	assert.Equal(t, 17, cfg.Session.RolloverHour)
	assert.InDelta(t, 0.9, cfg.Params.WarnFraction, 1e-9)
	assert.InDelta(t, 0.5, cfg.Params.ReducedScaleFactor, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.Params.EvalInterval)
	assert.Equal(t, "sim", cfg.Broker.Mode)
	assert.Equal(t, 5, cfg.Payout.PartialDays)
	assert.Equal(t, 30, cfg.Payout.FullDays)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, []string{"trend"}, cfg.DisabledSleeveIDs())
}

func TestLoadRejectsMissingLimits(t *testing.T) {
	_, err := Load(writeConfig(t, `{"account": {"initial_balance": 50000}}`))
	require.Error(t, err)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	cfg := `{
		"account": {"initial_balance": 50000},
		"limits": {
			"max_daily_loss": 1000, "max_trailing_drawdown": 2000,
			"max_position_size": 5, "allowed_markets": ["MES"]
		},
		"session": {"timezone": "Mars/Olympus"}
	}`
	_, err := Load(writeConfig(t, cfg))
	require.Error(t, err)
}

func TestLoadRejectsDuplicateSleeveIDs(t *testing.T) {
	cfg := `{
		"account": {"initial_balance": 50000},
		"limits": {
			"max_daily_loss": 1000, "max_trailing_drawdown": 2000,
			"max_position_size": 5, "allowed_markets": ["MES"]
		},
		"sleeves": [{"id": "mm"}, {"id": "mm"}]
	}`
	_, err := Load(writeConfig(t, cfg))
	require.Error(t, err)
}

func TestBybitModeRequiresCredentials(t *testing.T) {
	cfg := `{
		"account": {"initial_balance": 50000},
		"limits": {
			"max_daily_loss": 1000, "max_trailing_drawdown": 2000,
			"max_position_size": 5, "allowed_markets": ["MES"]
		},
		"broker": {"mode": "bybit"}
	}`
	_, err := Load(writeConfig(t, cfg))
	require.Error(t, err)
}

func TestEnvOverridesCredentials(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "key-from-env")
	t.Setenv("BYBIT_API_SECRET", "secret-from-env")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := `{
		"account": {"initial_balance": 50000},
		"limits": {
			"max_daily_loss": 1000, "max_trailing_drawdown": 2000,
			"max_position_size": 5, "allowed_markets": ["MES"]
		},
		"broker": {"mode": "bybit", "demo": true}
	}`
	loaded, err := Load(writeConfig(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", loaded.Broker.APIKey)
	assert.Equal(t, "secret-from-env", loaded.Broker.APISecret)
	assert.Equal(t, "debug", loaded.LogLevel)
}
