package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pythefnos/Topstep-quant/internal/config"
	"github.com/Pythefnos/Topstep-quant/internal/gate"
	"github.com/Pythefnos/Topstep-quant/internal/monitoring"
	"github.com/Pythefnos/Topstep-quant/internal/risk"
	"github.com/Pythefnos/Topstep-quant/pkg/types"
)

func testEngineConfig() *config.EngineConfig {
	cfg := &config.EngineConfig{
		Account: config.AccountConfig{InitialBalance: 50000},
		Limits: risk.Limits{
			MaxDailyLoss:        1000,
			MaxTrailingDrawdown: 2000,
			MaxPositionSize:     5,
			TradeLimitPerDay:    100,
			TradeLimitPerWeek:   500,
			AllowedMarkets:      []string{"MES"},
		},
		Params: risk.Params{
			WarnFraction:       0.9,
			ReducedScaleFactor: 0.5,
			EvalInterval:       0, // no timers in tests
		},
		Session: config.SessionConfig{Timezone: "America/Chicago", RolloverHour: 17},
		Sleeves: []config.SleeveConfig{
			{ID: "mm", Kind: "paper", Market: "MES", Quantity: 1},
		},
		Broker: config.BrokerConfig{Mode: "sim"},
	}
	cfg.Payout.WinningDayThreshold = 200
	cfg.Payout.PartialDays = 5
	cfg.Payout.FullDays = 30
	cfg.Retry.MaxRetries = 1
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Retry.BackoffFactor = 1
	return cfg
}

func TestEngineWiresTheFullStack(t *testing.T) {
	e, err := New(testEngineConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)

	// the coordinator accepts fills for the configured sleeve
	require.NoError(t, e.Coordinator().RecordFill("mm", types.Fill{
		Market: "MES", Side: types.SideBuy, Qty: 1, RealizedPnL: -100, Timestamp: time.Now(),
	}))
	snap := e.Coordinator().Snapshot()
	assert.Equal(t, risk.StateActive, snap.State)
	assert.GreaterOrEqual(t, snap.Account.TradesToday, 1)

	// the gate enforces the configured allowlist
	d := e.Gate().Admit("mm", types.Order{Market: "CL", Side: types.SideBuy, Qty: 1})
	assert.Equal(t, gate.ReasonMarketNotAllowed, d.Reason)
}

func TestHealthReportsOperatingState(t *testing.T) {
	e, err := New(testEngineConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)

	// cross the warning threshold so a risk event reaches the subscriber
	require.NoError(t, e.Coordinator().RecordFill("mm", types.Fill{
		Market: "MES", Side: types.SideBuy, Qty: 1, RealizedPnL: -900, Timestamp: time.Now(),
	}))

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		e.health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		var status monitoring.HealthStatus
		if json.Unmarshal(rec.Body.Bytes(), &status) != nil {
			return false
		}
		return status.RiskState == "WARNING"
	}, 2*time.Second, 10*time.Millisecond, "health must report the operating state, not the event name")
}

func TestEngineRejectsUnknownSleeveKind(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Sleeves = []config.SleeveConfig{{ID: "x", Kind: "martingale"}}

	_, err := New(cfg, zerolog.Nop())
	require.Error(t, err)
}
