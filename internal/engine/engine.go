package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"grvtbot/internal/alerts"
	"grvtbot/internal/closer"
	"grvtbot/internal/config"
	"grvtbot/internal/exchange"
	"grvtbot/internal/logger"
	"grvtbot/internal/models"
	"grvtbot/internal/risk"
	"grvtbot/internal/state"
	"grvtbot/internal/strategy"
)

const marketLimitsTTL = 10 * time.Minute

// Engine — управляющий цикл: сверка при старте, пороги, сигналы, входы.
// Вся риск-логика делегируется risk.Engine, закрытие — closer.Closer.
type Engine struct {
	cfg    *config.Config
	client exchange.Client
	store  *state.Store
	risk   *risk.Engine
	closer *closer.Closer
	alerts *alerts.Manager
	strat  strategy.Provider
	log    *logger.Logger

	errWin   errorWindow
	limits   *models.MarketLimits
	limitsAt time.Time
}

func New(
	cfg *config.Config,
	client exchange.Client,
	store *state.Store,
	riskEngine *risk.Engine,
	positionCloser *closer.Closer,
	alertManager *alerts.Manager,
	strat strategy.Provider,
	log *logger.Logger,
) *Engine {
	return &Engine{
		cfg:    cfg,
		client: client,
		store:  store,
		risk:   riskEngine,
		closer: positionCloser,
		alerts: alertManager,
		strat:  strat,
		log:    log,
	}
}

func (e *Engine) Run(ctx context.Context) error {
	if err := e.startup(ctx); err != nil {
		return err
	}

	interval := time.Duration(e.cfg.Trading.LoopIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logEntry().WithField("interval", interval).Info("Управляющий цикл запущен.")

	for {
		select {
		case <-ctx.Done():
			e.logEntry().Info("Управляющий цикл остановлен.")
			return nil
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

// startup сверяет локальное состояние с биржей и сажает baseline equity.
// Без успешной сверки торговать нельзя — ошибка здесь фатальна.
func (e *Engine) startup(ctx context.Context) error {
	symbol := e.cfg.Trading.Symbol

	rec, err := e.store.Reconcile(ctx, e.client, symbol, e.cfg.Execution.PositionQtyTolerance)
	if err != nil {
		return fmt.Errorf("Сверка позиции при старте не удалась: %w", err)
	}

	if rec.Mismatch {
		metricReconcileMismatch.Inc()
		e.alerts.Send(fmt.Sprintf("Расхождение позиции при старте (%s): локально %s, на бирже %s. Принят взгляд биржи.",
			symbol, describePosition(rec.LocalPosition), describePosition(rec.ExchangePosition)), alerts.LevelWarning)

		if e.cfg.Ops.HaltOnReconcileMismatch {
			if _, err := e.store.SetHalted(true, "startup_reconcile_mismatch"); err != nil {
				return err
			}
			e.logEntry().Warn("Бот остановлен до ручной проверки расхождения.")
		}
	} else {
		e.logEntry().WithField("position", describePosition(rec.ExchangePosition)).Info("Сверка позиции: расхождений нет.")
	}

	st := e.store.Load()
	if st.BaselineEquityUSDT == nil {
		summary, err := e.withRetryAccountSummary(ctx)
		if err != nil {
			e.logEntry().WithError(err).Warn("Не удалось посадить baseline equity при старте.")
		} else if summary.EquityUSDT != nil {
			if _, err := e.store.SetBaselineEquity(summary.EquityUSDT); err != nil {
				return err
			}
			e.logEntry().WithField("baseline_equity_usdt", *summary.EquityUSDT).Info("Baseline equity зафиксирован.")
		}
	}

	now := time.Now().UTC()
	st = e.store.Load()
	st.LastLoopStartedAt = &now
	if err := e.store.Save(st); err != nil {
		return err
	}

	if st.Halted {
		metricHalted.Set(1)
	} else {
		metricHalted.Set(0)
	}
	return nil
}

func (e *Engine) cycle(ctx context.Context) {
	st := e.store.Load()
	if st.Halted {
		metricHalted.Set(1)
		e.logEntry().WithField("reason", st.HaltReason).Debug("Бот остановлен, цикл пропущен.")
		return
	}
	metricHalted.Set(0)

	equity := e.currentEquity(ctx)

	decision := e.risk.EvaluateThresholds(equity, st.BaselineEquityUSDT)
	if !decision.Allowed {
		e.handleRiskBreach(ctx, decision)
		return
	}

	signal := e.strat.NextSignal(time.Now().UTC())
	if signal == nil {
		return
	}
	e.tryEnter(ctx, st, signal, equity)
}

func (e *Engine) currentEquity(ctx context.Context) *float64 {
	summary, err := e.withRetryAccountSummary(ctx)
	if err != nil {
		e.noteError(err, "Не удалось получить equity для цикла.")
		return nil
	}
	return summary.EquityUSDT
}

// handleRiskBreach выполняет настроенное действие порога: при flatten_halt
// сначала сводит позицию к нулю, затем останавливает бота.
func (e *Engine) handleRiskBreach(ctx context.Context, decision risk.Decision) {
	e.logEntry().WithFields(logrus.Fields{
		"code":    decision.Code,
		"reason":  decision.Reason,
		"action":  decision.Action,
		"pnl_pct": decision.PnlPct,
	}).Warn("Пробит риск-порог.")
	e.alerts.Send(fmt.Sprintf("Риск-порог %s: %s", decision.Code, decision.Reason), alerts.LevelError)

	if decision.Action == risk.ActionFlattenHalt {
		e.flatten(ctx, string(decision.Code))
	}

	if _, err := e.store.SetHalted(true, string(decision.Code)); err != nil {
		e.logEntry().WithError(err).Error("Не удалось сохранить остановку.")
	}
	metricHalted.Set(1)
}

// flatten закрывает открытую позицию адаптивным клоузером и фиксирует
// исход в состоянии. Неудача закрытия — операционное событие.
func (e *Engine) flatten(ctx context.Context, reason string) {
	symbol := e.cfg.Trading.Symbol

	position, err := e.withRetryPosition(ctx, symbol)
	if err != nil {
		e.noteError(err, "Не удалось получить позицию перед закрытием.")
		return
	}
	if position == nil {
		e.logEntry().Info("Закрывать нечего: позиции нет.")
		return
	}

	metricCloseAttempts.Inc()
	result := e.closer.Close(ctx, symbol, position.AmountBase, newCloseSeed())
	metricCloseOutcomes.WithLabelValues(string(result.Code)).Inc()

	now := time.Now().UTC()
	st := e.store.Load()
	st.LastCloseAttemptAt = &now
	st.CloseAttemptCount++
	st.LastCloseReason = string(result.Code)
	if result.Success {
		st.OpenPosition = nil
	}
	if err := e.store.Save(st); err != nil {
		e.logEntry().WithError(err).Error("Не удалось сохранить исход закрытия.")
	}

	entry := e.logEntry().WithFields(logrus.Fields{
		"code":        result.Code,
		"attempts":    result.Attempts,
		"orders_sent": result.OrdersSent,
		"remaining":   result.RemainingQty,
		"trigger":     reason,
	})
	if result.Success {
		entry.Info("Позиция закрыта.")
		return
	}

	entry.Error("Закрытие не удалось.")
	e.alerts.Send(fmt.Sprintf("Закрытие %s не удалось (%s), остаток %.8f.", symbol, result.Code, result.RemainingQty), alerts.LevelError)
	if e.cfg.Execution.FailHaltOnCloseFailure {
		if _, err := e.store.SetHalted(true, "close_failure:"+string(result.Code)); err != nil {
			e.logEntry().WithError(err).Error("Не удалось сохранить остановку.")
		}
		metricHalted.Set(1)
	}
}

func (e *Engine) tryEnter(ctx context.Context, st *state.RuntimeState, signal *strategy.Signal, equity *float64) {
	symbol := e.cfg.Trading.Symbol

	refPrice, err := e.client.GetReferencePrice(ctx, symbol, signal.Side)
	if err != nil {
		e.noteError(err, "Не удалось получить референсную цену для входа.")
		return
	}

	leverage := e.cfg.Trading.Leverage
	decision := e.risk.EvaluateEntry(risk.EntryRequest{
		Side:              signal.Side,
		AmountUSDT:        signal.AmountUSDT,
		ReferencePrice:    refPrice,
		MarketLimits:      e.marketLimits(ctx),
		IsHalted:          st.Halted,
		AccountEquityUSDT: equity,
		Leverage:          &leverage,
	})

	if !decision.Allowed {
		metricEntriesBlocked.WithLabelValues(string(decision.Code)).Inc()
		e.logEntry().WithFields(logrus.Fields{
			"code":   decision.Code,
			"reason": decision.Reason,
			"side":   signal.Side,
		}).Info("Вход заблокирован риск-движком.")
		return
	}

	if e.cfg.Runtime.DryRun {
		e.logEntry().WithFields(logrus.Fields{
			"side":          signal.Side,
			"qty":           decision.OrderQty,
			"notional_usdt": decision.OrderNotionalUSDT,
		}).Info("dry_run: вход рассчитан, ордер не отправлен.")
		return
	}

	linkID := uuid.New().String()
	ack, err := e.client.PlaceMarketOrder(ctx, symbol, signal.Side, decision.OrderQty, linkID)
	if err != nil {
		e.noteError(err, "Не удалось отправить ордер на вход.")
		e.alerts.Send(fmt.Sprintf("Ордер на вход %s %s не отправлен: %v", signal.Side, symbol, err), alerts.LevelWarning)
		return
	}
	metricOrdersPlaced.Inc()
	e.errWin.reset()

	e.logEntry().WithFields(logrus.Fields{
		"order_id":      ack.ID,
		"link_id":       ack.LinkID,
		"side":          signal.Side,
		"qty":           decision.OrderQty,
		"notional_usdt": decision.OrderNotionalUSDT,
		"signal":        signal.Reason,
	}).Info("Ордер на вход отправлен.")

	position, err := e.withRetryPosition(ctx, symbol)
	if err != nil {
		e.noteError(err, "Не удалось перечитать позицию после входа.")
		return
	}
	if _, err := e.store.SetOpenPosition(position); err != nil {
		e.logEntry().WithError(err).Error("Не удалось сохранить позицию.")
	}
}

// noteError ведёт учёт повторяющихся ошибок; их лавина останавливает бота.
func (e *Engine) noteError(err error, message string) {
	metricLoopErrors.Inc()
	e.logEntry().WithError(err).Warn(message)

	window := time.Duration(e.cfg.Ops.RepeatedErrorWindowSeconds) * time.Second
	count := e.errWin.note(time.Now(), window)
	if e.cfg.Ops.MaxRepeatedErrors > 0 && count >= e.cfg.Ops.MaxRepeatedErrors {
		e.alerts.Send(fmt.Sprintf("Слишком много ошибок подряд (%d), бот остановлен.", count), alerts.LevelError)
		if _, err := e.store.SetHalted(true, "repeated_errors"); err != nil {
			e.logEntry().WithError(err).Error("Не удалось сохранить остановку.")
		}
		metricHalted.Set(1)
		e.errWin.reset()
	}
}

// marketLimits кэширует лимиты инструмента: они меняются редко,
// а устаревшее значение безопаснее пропуска цикла.
func (e *Engine) marketLimits(ctx context.Context) *models.MarketLimits {
	if e.limits != nil && time.Since(e.limitsAt) < marketLimitsTTL {
		return e.limits
	}

	limits, err := e.client.GetMarketLimits(ctx, e.cfg.Trading.Symbol)
	if err != nil {
		e.logEntry().WithError(err).Warn("Не удалось обновить лимиты инструмента.")
		return e.limits
	}
	e.limits = limits
	e.limitsAt = time.Now()
	return limits
}

func newCloseSeed() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint32(id[:4])) & 0x7FFFFFFF
}

func describePosition(position *models.Position) string {
	if position == nil {
		return "нет"
	}
	return fmt.Sprintf("%s %.8f @ %.2f", position.Side, position.AmountBase, position.EntryPrice)
}

func (e *Engine) logEntry() *logrus.Entry {
	return e.log.WithComponent("engine").WithField("symbol", e.cfg.Trading.Symbol)
}
