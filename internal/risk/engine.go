package risk

import (
	"fmt"
	"math"

	"grvtbot/internal/config"
	"grvtbot/internal/logger"
	"grvtbot/internal/models"
)

// Engine — чистый вычислитель риск-решений над снимками данных вызывающего.
// Не держит изменяемого состояния кроме конфигурации.
type Engine struct {
	cfg *config.Config
	log *logger.Logger
}

func New(cfg *config.Config, log *logger.Logger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// ComputeNotionalFromRisk выводит номинал из риска на сделку и плеча.
// Стратегия может запросить меньше риск-бюджета, но не больше.
func (e *Engine) ComputeNotionalFromRisk(accountEquityUSDT, leverage float64, signalAmountUSDT *float64) float64 {
	leverage = math.Max(1.0, leverage)
	equity := math.Max(0.0, accountEquityUSDT)
	riskNotional := equity * (e.cfg.Risk.RiskPerTradePct / 100.0) * leverage

	if signalAmountUSDT == nil || *signalAmountUSDT <= 0 {
		return riskNotional
	}
	return math.Min(*signalAmountUSDT, riskNotional)
}

// EvaluateThresholds проверяет двустороннюю полосу PnL относительно базового equity.
// Пробой любой из границ блокирует новый риск с настроенным threshold_action.
func (e *Engine) EvaluateThresholds(currentEquityUSDT, baselineEquityUSDT *float64) Decision {
	if currentEquityUSDT == nil || baselineEquityUSDT == nil {
		if e.cfg.Risk.FailClosed {
			return Decision{
				Code:   CodeEquityDataMissing,
				Reason: "Нет данных equity для проверки порогов.",
				Action: ActionHalt,
			}
		}
		return Decision{Allowed: true, Code: CodeEquityDataMissing, Reason: "skip", Action: ActionAllow}
	}

	baseline := *baselineEquityUSDT
	current := *currentEquityUSDT
	if baseline <= 0 || current <= 0 {
		if e.cfg.Risk.FailClosed {
			return Decision{
				Code:   CodeEquityDataInvalid,
				Reason: fmt.Sprintf("Некорректные значения equity: baseline=%v, current=%v", baseline, current),
				Action: ActionHalt,
			}
		}
		return Decision{Allowed: true, Code: CodeEquityDataInvalid, Reason: "skip", Action: ActionAllow}
	}

	track := e.cfg.Risk.ActiveTrackConfig()
	pnlPct := (current - baseline) / baseline * 100.0

	if pnlPct <= -track.MaxDrawdownPct {
		return Decision{
			Code:   CodeMaxDrawdownHit,
			Reason: fmt.Sprintf("Просадка %.2f%% <= -%.2f%%", pnlPct, track.MaxDrawdownPct),
			Action: e.thresholdAction(),
			PnlPct: pnlPct,
		}
	}

	if pnlPct >= track.ProfitTargetPct {
		return Decision{
			Code:   CodeProfitTargetHit,
			Reason: fmt.Sprintf("PnL %.2f%% >= %.2f%%", pnlPct, track.ProfitTargetPct),
			Action: e.thresholdAction(),
			PnlPct: pnlPct,
		}
	}

	return Decision{
		Allowed: true,
		Code:    CodeOK,
		Reason:  "Пороги не пробиты.",
		Action:  ActionAllow,
		PnlPct:  pnlPct,
	}
}

func (e *Engine) thresholdAction() Action {
	if e.cfg.Risk.ThresholdAction == "halt" {
		return ActionHalt
	}
	return ActionFlattenHalt
}

// EvaluateEntry решает, можно ли размещать вход. Без побочных эффектов.
func (e *Engine) EvaluateEntry(req EntryRequest) Decision {
	if !req.Side.Valid() {
		return skip(CodeInvalidSide, fmt.Sprintf("Неподдерживаемая сторона: %q", req.Side))
	}

	if e.cfg.Risk.KillSwitch {
		return skip(CodeKillSwitch, "Включён аварийный выключатель риска.")
	}

	if req.IsHalted {
		return skip(CodeHalted, "Бот остановлен.")
	}

	if req.ReferencePrice <= 0 {
		return skip(CodeReferencePriceMissing, "Недоступна референсная цена.")
	}

	var amountUSDT float64
	if req.AmountUSDT != nil {
		amountUSDT = e.ComputeNotionalFromRisk(deref(req.AccountEquityUSDT), deref(req.Leverage), req.AmountUSDT)
		if req.AccountEquityUSDT == nil || req.Leverage == nil {
			// Риск-бюджет не вычислить — берём заявку стратегии как есть.
			amountUSDT = *req.AmountUSDT
		}
	} else {
		if req.AccountEquityUSDT == nil || req.Leverage == nil {
			return skip(CodeNotionalInputMissing, "Нет amount_usdt и нет equity/плеча, чтобы его вывести.")
		}
		amountUSDT = e.ComputeNotionalFromRisk(*req.AccountEquityUSDT, *req.Leverage, nil)
	}

	if amountUSDT <= 0 {
		return skip(CodeInvalidNotional, fmt.Sprintf("amount_usdt=%v", amountUSDT))
	}

	if req.MarketLimits == nil {
		if e.cfg.Risk.FailClosed {
			return skip(CodeMarketLimitsMissing, "Нет лимитов инструмента, fail_closed включён.")
		}
		req.MarketLimits = &models.MarketLimits{}
	}

	minQty := 0.0
	switch {
	case req.MarketLimits.MinQty == nil || *req.MarketLimits.MinQty == 0:
		if e.cfg.Risk.FailClosed {
			return skip(CodeMinQtyMissing, "Биржа не сообщила min_qty.")
		}
	case *req.MarketLimits.MinQty < 0:
		if e.cfg.Risk.FailClosed {
			return skip(CodeMinQtyInvalid, fmt.Sprintf("Некорректный min_qty=%v", *req.MarketLimits.MinQty))
		}
	default:
		minQty = *req.MarketLimits.MinQty
	}

	computedQty := amountUSDT / req.ReferencePrice
	if computedQty <= 0 {
		return skip(CodeComputedQtyInvalid, fmt.Sprintf("computed_qty=%v", computedQty))
	}

	if req.MarketLimits.BaseDecimals != nil {
		computedQty = models.RoundToDecimals(computedQty, *req.MarketLimits.BaseDecimals)
	}

	if minQty > 0 && computedQty < minQty {
		return Decision{
			Code:     CodeMinQtyViolation,
			Reason:   fmt.Sprintf("computed_qty=%.12f < min_qty=%.12f", computedQty, minQty),
			Action:   ActionSkip,
			OrderQty: computedQty,
		}
	}

	derivedMinNotional := 0.0
	if minQty > 0 {
		derivedMinNotional = minQty * req.ReferencePrice * e.cfg.Risk.MinNotionalSafetyFactor
	}
	if derivedMinNotional > 0 && amountUSDT < derivedMinNotional {
		return Decision{
			Code:                   CodeMinNotionalViolation,
			Reason:                 fmt.Sprintf("amount_usdt=%.8f < derived_min_notional=%.8f", amountUSDT, derivedMinNotional),
			Action:                 ActionSkip,
			OrderQty:               computedQty,
			DerivedMinNotionalUSDT: derivedMinNotional,
		}
	}

	return Decision{
		Allowed:                true,
		Code:                   CodeOK,
		Reason:                 "Вход разрешён.",
		Action:                 ActionAllow,
		OrderQty:               computedQty,
		OrderNotionalUSDT:      amountUSDT,
		DerivedMinNotionalUSDT: derivedMinNotional,
	}
}

func skip(code Code, reason string) Decision {
	return Decision{Code: code, Reason: reason, Action: ActionSkip}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
