package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Exchange  ExchangeConfig
	Trading   TradingConfig
	Risk      RiskConfig
	Execution ExecutionConfig
	Ops       OpsConfig
	Alerts    AlertsConfig
	Runtime   RuntimeConfig
}

type ExchangeConfig struct {
	Env              string
	BaseUrl          string
	WSUrl            string
	ApiKey           string
	TradingAccountID string
	SubAccountID     string
}

type TradingConfig struct {
	Symbol              string
	Leverage            float64
	OrderSizeUSDT       float64
	LoopIntervalSeconds int
}

type RiskTrack struct {
	MaxDrawdownPct  float64
	ProfitTargetPct float64
}

type RiskConfig struct {
	ActiveTrack             string
	FailClosed              bool
	KillSwitch              bool
	ThresholdAction         string
	RiskPerTradePct         float64
	MinNotionalSafetyFactor float64
	Tracks                  map[string]RiskTrack
}

// ActiveTrackConfig возвращает параметры активного трека,
// при отсутствии — трек normal, затем встроенные значения.
func (r RiskConfig) ActiveTrackConfig() RiskTrack {
	if track, ok := r.Tracks[r.ActiveTrack]; ok {
		return track
	}
	if track, ok := r.Tracks["normal"]; ok {
		return track
	}
	return RiskTrack{MaxDrawdownPct: 5.0, ProfitTargetPct: 5.0}
}

type ExecutionConfig struct {
	LiquidityUsagePct         float64
	OrderbookLevels           int
	MaxSlippageBps            float64
	CloseMinSliceQty          float64
	CloseRetryIntervalSeconds float64
	CloseMaxRetries           int
	CloseMaxDurationSeconds   float64
	CloseNoProgressRetries    int
	// Один и тот же допуск используется и как порог завершения закрытия,
	// и как порог сброса счётчика «нет прогресса».
	PositionQtyTolerance   float64
	FailHaltOnCloseFailure bool
}

type OpsConfig struct {
	StateFile                  string
	LockFile                   string
	HaltOnReconcileMismatch    bool
	ErrorBackoffSeconds        int
	MaxRepeatedErrors          int
	RepeatedErrorWindowSeconds int
	MetricsPort                int
}

type AlertsConfig struct {
	Enabled          bool
	TelegramEnabled  bool
	TelegramBotToken string
	TelegramChatID   string
}

type RuntimeConfig struct {
	DryRun bool
	Log    LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func Load() (*Config, error) {
	setDefaults()

	viper.AddConfigPath("configs")
	viper.SetConfigName("config")
	viper.ReadInConfig()

	cfg := &Config{}

	cfg.Exchange = ExchangeConfig{
		Env:              viper.GetString("exchange.env"),
		BaseUrl:          viper.GetString("exchange.base_url"),
		WSUrl:            viper.GetString("exchange.ws_url"),
		ApiKey:           envSub("exchange.api_key"),
		TradingAccountID: envSub("exchange.trading_account_id"),
		SubAccountID:     envSub("exchange.sub_account_id"),
	}

	cfg.Trading = TradingConfig{
		Symbol:              viper.GetString("trading.symbol"),
		Leverage:            viper.GetFloat64("trading.leverage"),
		OrderSizeUSDT:       viper.GetFloat64("trading.order_size_usdt"),
		LoopIntervalSeconds: viper.GetInt("trading.loop_interval_seconds"),
	}

	cfg.Risk = RiskConfig{
		ActiveTrack:             viper.GetString("risk.active_track"),
		FailClosed:              viper.GetBool("risk.fail_closed"),
		KillSwitch:              viper.GetBool("risk.kill_switch"),
		ThresholdAction:         viper.GetString("risk.threshold_action"),
		RiskPerTradePct:         viper.GetFloat64("risk.risk_per_trade_pct"),
		MinNotionalSafetyFactor: viper.GetFloat64("risk.min_notional_safety_factor"),
		Tracks:                  loadTracks(),
	}

	cfg.Execution = ExecutionConfig{
		LiquidityUsagePct:         viper.GetFloat64("execution.liquidity_usage_pct"),
		OrderbookLevels:           viper.GetInt("execution.orderbook_levels"),
		MaxSlippageBps:            viper.GetFloat64("execution.max_slippage_bps"),
		CloseMinSliceQty:          viper.GetFloat64("execution.close_min_slice_qty"),
		CloseRetryIntervalSeconds: viper.GetFloat64("execution.close_retry_interval_seconds"),
		CloseMaxRetries:           viper.GetInt("execution.close_max_retries"),
		CloseMaxDurationSeconds:   viper.GetFloat64("execution.close_max_duration_seconds"),
		CloseNoProgressRetries:    viper.GetInt("execution.close_no_progress_retries"),
		PositionQtyTolerance:      viper.GetFloat64("execution.position_qty_tolerance"),
		FailHaltOnCloseFailure:    viper.GetBool("execution.fail_halt_on_close_failure"),
	}

	cfg.Ops = OpsConfig{
		StateFile:                  viper.GetString("ops.state_file"),
		LockFile:                   viper.GetString("ops.lock_file"),
		HaltOnReconcileMismatch:    viper.GetBool("ops.halt_on_reconcile_mismatch"),
		ErrorBackoffSeconds:        viper.GetInt("ops.error_backoff_seconds"),
		MaxRepeatedErrors:          viper.GetInt("ops.max_repeated_errors"),
		RepeatedErrorWindowSeconds: viper.GetInt("ops.repeated_error_window_seconds"),
		MetricsPort:                viper.GetInt("ops.metrics_port"),
	}

	cfg.Alerts = AlertsConfig{
		Enabled:          viper.GetBool("alerts.enabled"),
		TelegramEnabled:  viper.GetBool("alerts.telegram_enabled"),
		TelegramBotToken: envSub("alerts.telegram_bot_token"),
		TelegramChatID:   envSub("alerts.telegram_chat_id"),
	}

	cfg.Runtime = RuntimeConfig{
		DryRun: viper.GetBool("runtime.dry_run"),
		Log: LogConfig{
			Level:      viper.GetString("runtime.log.level"),
			Format:     viper.GetString("runtime.log.format"),
			File:       viper.GetString("runtime.log.file"),
			MaxSize:    viper.GetInt("runtime.log.max_size"),
			MaxBackups: viper.GetInt("runtime.log.max_backups"),
			MaxAge:     viper.GetInt("runtime.log.max_age"),
			Compress:   viper.GetBool("runtime.log.compress"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("exchange.env", "testnet")
	viper.SetDefault("exchange.base_url", "https://market-data.testnet.grvt.io")
	viper.SetDefault("exchange.ws_url", "wss://market-data.testnet.grvt.io/ws")
	viper.SetDefault("exchange.sub_account_id", "0")

	viper.SetDefault("trading.symbol", "BTC_USDT_Perp")
	viper.SetDefault("trading.leverage", 10.0)
	viper.SetDefault("trading.order_size_usdt", 500.0)
	viper.SetDefault("trading.loop_interval_seconds", 1)

	viper.SetDefault("risk.active_track", "normal")
	viper.SetDefault("risk.fail_closed", true)
	viper.SetDefault("risk.kill_switch", false)
	viper.SetDefault("risk.threshold_action", "flatten_halt")
	viper.SetDefault("risk.risk_per_trade_pct", 0.25)
	viper.SetDefault("risk.min_notional_safety_factor", 1.05)
	viper.SetDefault("risk.tracks.normal.max_drawdown_pct", 5.0)
	viper.SetDefault("risk.tracks.normal.profit_target_pct", 5.0)
	viper.SetDefault("risk.tracks.low_vol.max_drawdown_pct", 2.0)
	viper.SetDefault("risk.tracks.low_vol.profit_target_pct", 2.0)

	viper.SetDefault("execution.liquidity_usage_pct", 0.20)
	viper.SetDefault("execution.orderbook_levels", 20)
	viper.SetDefault("execution.max_slippage_bps", 20.0)
	viper.SetDefault("execution.close_min_slice_qty", 0.01)
	viper.SetDefault("execution.close_retry_interval_seconds", 2.0)
	viper.SetDefault("execution.close_max_retries", 20)
	viper.SetDefault("execution.close_max_duration_seconds", 90.0)
	viper.SetDefault("execution.close_no_progress_retries", 3)
	viper.SetDefault("execution.position_qty_tolerance", 0.000001)
	viper.SetDefault("execution.fail_halt_on_close_failure", true)

	viper.SetDefault("ops.state_file", "state/runtime_state.json")
	viper.SetDefault("ops.lock_file", "state/runtime.lock")
	viper.SetDefault("ops.halt_on_reconcile_mismatch", true)
	viper.SetDefault("ops.error_backoff_seconds", 2)
	viper.SetDefault("ops.max_repeated_errors", 20)
	viper.SetDefault("ops.repeated_error_window_seconds", 300)
	viper.SetDefault("ops.metrics_port", 9091)

	viper.SetDefault("alerts.enabled", true)
	viper.SetDefault("alerts.telegram_enabled", false)

	viper.SetDefault("runtime.dry_run", false)
	viper.SetDefault("runtime.log.level", "info")
	viper.SetDefault("runtime.log.format", "text")
	viper.SetDefault("runtime.log.file", "")
	viper.SetDefault("runtime.log.max_size", 50)
	viper.SetDefault("runtime.log.max_backups", 5)
	viper.SetDefault("runtime.log.max_age", 14)
	viper.SetDefault("runtime.log.compress", true)
}

func loadTracks() map[string]RiskTrack {
	tracks := map[string]RiskTrack{}
	raw := viper.GetStringMap("risk.tracks")
	for name := range raw {
		prefix := "risk.tracks." + name
		tracks[name] = RiskTrack{
			MaxDrawdownPct:  viper.GetFloat64(prefix + ".max_drawdown_pct"),
			ProfitTargetPct: viper.GetFloat64(prefix + ".profit_target_pct"),
		}
	}
	return tracks
}

func (c *Config) Validate() error {
	if c.Trading.Symbol == "" {
		return fmt.Errorf("Не задан торговый символ.")
	}
	if c.Trading.Leverage < 1 {
		return fmt.Errorf("Недопустимое плечо: %v", c.Trading.Leverage)
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 100 {
		return fmt.Errorf("Недопустимый risk_per_trade_pct: %v", c.Risk.RiskPerTradePct)
	}
	if c.Risk.MinNotionalSafetyFactor < 1 {
		return fmt.Errorf("min_notional_safety_factor должен быть >= 1: %v", c.Risk.MinNotionalSafetyFactor)
	}
	if c.Risk.ThresholdAction != "flatten_halt" && c.Risk.ThresholdAction != "halt" {
		return fmt.Errorf("Недопустимый threshold_action: %q", c.Risk.ThresholdAction)
	}
	if c.Execution.LiquidityUsagePct <= 0 || c.Execution.LiquidityUsagePct > 1 {
		return fmt.Errorf("liquidity_usage_pct должен быть в (0;1]: %v", c.Execution.LiquidityUsagePct)
	}
	if c.Execution.OrderbookLevels <= 0 {
		return fmt.Errorf("Недопустимый orderbook_levels: %v", c.Execution.OrderbookLevels)
	}
	if c.Execution.CloseMaxRetries <= 0 || c.Execution.CloseNoProgressRetries <= 0 {
		return fmt.Errorf("Лимиты закрытия должны быть положительными.")
	}
	if c.Execution.PositionQtyTolerance < 0 {
		return fmt.Errorf("Недопустимый position_qty_tolerance: %v", c.Execution.PositionQtyTolerance)
	}
	return nil
}

func envSub(key string) string {
	val := viper.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
