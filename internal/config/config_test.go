package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "BTC_USDT_Perp", cfg.Trading.Symbol)
	assert.InDelta(t, 10.0, cfg.Trading.Leverage, 1e-9)

	assert.Equal(t, "normal", cfg.Risk.ActiveTrack)
	assert.True(t, cfg.Risk.FailClosed)
	assert.False(t, cfg.Risk.KillSwitch)
	assert.Equal(t, "flatten_halt", cfg.Risk.ThresholdAction)
	assert.InDelta(t, 0.25, cfg.Risk.RiskPerTradePct, 1e-9)
	assert.InDelta(t, 1.05, cfg.Risk.MinNotionalSafetyFactor, 1e-9)

	assert.InDelta(t, 0.20, cfg.Execution.LiquidityUsagePct, 1e-9)
	assert.Equal(t, 20, cfg.Execution.OrderbookLevels)
	assert.InDelta(t, 20.0, cfg.Execution.MaxSlippageBps, 1e-9)
	assert.Equal(t, 20, cfg.Execution.CloseMaxRetries)
	assert.Equal(t, 3, cfg.Execution.CloseNoProgressRetries)
	assert.InDelta(t, 90.0, cfg.Execution.CloseMaxDurationSeconds, 1e-9)
	assert.InDelta(t, 1e-6, cfg.Execution.PositionQtyTolerance, 1e-12)
	assert.True(t, cfg.Execution.FailHaltOnCloseFailure)

	assert.True(t, cfg.Ops.HaltOnReconcileMismatch)
	assert.Equal(t, 20, cfg.Ops.MaxRepeatedErrors)
}

func TestActiveTrackConfig(t *testing.T) {
	viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	track := cfg.Risk.ActiveTrackConfig()
	assert.InDelta(t, 5.0, track.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 5.0, track.ProfitTargetPct, 1e-9)

	cfg.Risk.ActiveTrack = "low_vol"
	track = cfg.Risk.ActiveTrackConfig()
	assert.InDelta(t, 2.0, track.MaxDrawdownPct, 1e-9)

	// Неизвестный трек откатывается к normal.
	cfg.Risk.ActiveTrack = "неизвестный"
	track = cfg.Risk.ActiveTrackConfig()
	assert.InDelta(t, 5.0, track.MaxDrawdownPct, 1e-9)
}

func TestActiveTrackConfigBuiltinFallback(t *testing.T) {
	r := RiskConfig{ActiveTrack: "x", Tracks: map[string]RiskTrack{}}

	track := r.ActiveTrackConfig()

	assert.InDelta(t, 5.0, track.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 5.0, track.ProfitTargetPct, 1e-9)
}

func TestEnvSubstitution(t *testing.T) {
	viper.Reset()
	setDefaults()
	t.Setenv("TEST_GRVT_KEY", "секрет")
	viper.Set("exchange.api_key", "${TEST_GRVT_KEY}")

	assert.Equal(t, "секрет", envSub("exchange.api_key"))

	os.Unsetenv("TEST_GRVT_KEY")
	assert.Equal(t, "", envSub("exchange.api_key"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	viper.Reset()
	cfg, err := Load()
	require.NoError(t, err)

	bad := *cfg
	bad.Trading.Symbol = ""
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Trading.Leverage = 0.5
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Risk.RiskPerTradePct = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Risk.MinNotionalSafetyFactor = 0.9
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Risk.ThresholdAction = "ignore"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Execution.LiquidityUsagePct = 1.5
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Execution.PositionQtyTolerance = -1
	assert.Error(t, bad.Validate())
}
