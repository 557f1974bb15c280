package closer

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"grvtbot/internal/config"
	"grvtbot/internal/exchange"
	"grvtbot/internal/logger"
	"grvtbot/internal/models"
)

// Closer сводит открытую позицию к нулю reduce-only рыночными ордерами,
// нарезанными по видимой ликвидности. Ограничен по числу попыток, времени
// и числу итераций без прогресса — всегда завершается.
type Closer struct {
	client exchange.Client
	cfg    *config.Config
	log    *logger.Logger
}

func New(client exchange.Client, cfg *config.Config, log *logger.Logger) *Closer {
	return &Closer{client: client, cfg: cfg, log: log}
}

// closeState — явное состояние цикла закрытия.
// Терминальные исходы вычисляются шагом, а не самим циклом.
type closeState struct {
	attempts   int
	ordersSent int
	noProgress int
	lastQty    float64
	startedAt  time.Time

	limits        *models.MarketLimits
	limitsFetched bool
}

// Close сводит позицию к нулю. startQty — последний известный размер позиции:
// он попадает в RemainingQty, если ни одну пробу позиции выполнить не удалось.
func (c *Closer) Close(ctx context.Context, symbol string, startQty float64, seed int64) models.CloseResult {
	st := closeState{startedAt: time.Now(), lastQty: startQty}
	exec := c.cfg.Execution

	for {
		if st.attempts >= exec.CloseMaxRetries ||
			time.Since(st.startedAt).Seconds() >= exec.CloseMaxDurationSeconds {
			return c.finish(st, models.CloseTimeout, false)
		}
		if ctx.Err() != nil {
			return c.finish(st, models.CloseTimeout, false)
		}

		next, result := c.step(ctx, symbol, seed, st)
		st = next
		if result != nil {
			return *result
		}
	}
}

// step выполняет одну итерацию: проба позиции, расчёт среза, отправка,
// контрольное чтение. Возвращает либо новое состояние, либо терминальный итог.
func (c *Closer) step(ctx context.Context, symbol string, seed int64, st closeState) (closeState, *models.CloseResult) {
	exec := c.cfg.Execution
	tol := exec.PositionQtyTolerance

	st.attempts++

	pos, err := c.client.GetOpenPosition(ctx, symbol)
	if err != nil {
		c.logEntry(symbol).WithError(err).Warn("Не удалось получить позицию, итерация без прогресса.")
		return c.noProgressEvent(ctx, st, false)
	}
	if pos == nil || pos.AmountBase <= tol {
		res := c.finish(st, models.CloseSuccess, true)
		return st, &res
	}
	remaining := pos.AmountBase
	st.lastQty = remaining

	if !pos.Side.Valid() {
		c.logEntry(symbol).WithField("side", pos.Side).Error("Позиция с неизвестной стороной, закрытие прервано.")
		res := c.finish(st, models.CloseInvalidSide, false)
		return st, &res
	}
	closeSide := pos.Side.Opposite()

	refPrice, priceErr := c.client.GetReferencePrice(ctx, symbol, closeSide)
	book, bookErr := c.client.GetOrderBook(ctx, symbol, exec.OrderbookLevels)
	if priceErr != nil || refPrice <= 0 || bookErr != nil || book == nil {
		c.logEntry(symbol).Warn("Нет цены или стакана, итерация без прогресса.")
		return c.noProgressEvent(ctx, st, false)
	}

	available := availableLiquidity(book, closeSide, refPrice, exec.MaxSlippageBps)
	if available <= 0 {
		c.logEntry(symbol).WithFields(logrus.Fields{
			"reference_price": refPrice,
			"slippage_bps":    exec.MaxSlippageBps,
		}).Warn("В пределах допустимого проскальзывания нет ликвидности.")
		return c.noProgressEvent(ctx, st, false)
	}

	target := remaining
	if available < remaining {
		target = available * exec.LiquidityUsagePct
		if target < exec.CloseMinSliceQty {
			target = exec.CloseMinSliceQty
		}
		if target > remaining {
			target = remaining
		}
	}

	limits := c.marketLimits(ctx, symbol, &st)
	if limits != nil && limits.BaseDecimals != nil {
		target = models.RoundToDecimals(target, *limits.BaseDecimals)
	}
	if target <= tol {
		c.logEntry(symbol).WithField("target", target).Warn("Срез схлопнулся в ноль после округления.")
		return c.noProgressEvent(ctx, st, false)
	}

	if limits != nil && limits.MinQty != nil && *limits.MinQty > 0 && target < *limits.MinQty {
		if remaining+tol >= *limits.MinQty {
			// Остаток сам проходит по min_qty — закрываем целиком.
			target = remaining
		} else {
			c.logEntry(symbol).WithFields(logrus.Fields{
				"target":  target,
				"min_qty": *limits.MinQty,
			}).Warn("Срез меньше min_qty, остаток тоже — тонкий стакан.")
			return c.noProgressEvent(ctx, st, true)
		}
	}

	token := clientOrderToken(seed, st.attempts, st.ordersSent)
	st.ordersSent++

	c.logEntry(symbol).WithFields(logrus.Fields{
		"attempt":   st.attempts,
		"side":      closeSide,
		"qty":       target,
		"remaining": remaining,
		"available": available,
		"token":     token,
	}).Info("Отправляем reduce-only рыночный ордер на закрытие.")

	if _, err := c.client.PlaceReduceOnlyMarketOrder(ctx, symbol, closeSide, target, strconv.FormatInt(token, 10)); err != nil {
		c.logEntry(symbol).WithError(err).Warn("Ошибка отправки ордера на закрытие.")
	}

	if err := c.sleep(ctx); err != nil {
		res := c.finish(st, models.CloseTimeout, false)
		return st, &res
	}

	after, err := c.client.GetOpenPosition(ctx, symbol)
	if err != nil {
		c.logEntry(symbol).WithError(err).Warn("Не удалось перечитать позицию после ордера.")
		return c.bumpNoProgress(st, false)
	}
	if after == nil || after.AmountBase <= tol {
		st.lastQty = 0
		res := c.finish(st, models.CloseSuccess, true)
		return st, &res
	}

	if remaining-after.AmountBase > tol {
		st.noProgress = 0
	} else {
		next, result := c.bumpNoProgress(st, false)
		st = next
		if result != nil {
			return st, result
		}
	}
	st.lastQty = after.AmountBase
	return st, nil
}

// noProgressEvent фиксирует итерацию без прогресса и выдерживает интервал повтора.
func (c *Closer) noProgressEvent(ctx context.Context, st closeState, thinBook bool) (closeState, *models.CloseResult) {
	st, result := c.bumpNoProgress(st, thinBook)
	if result != nil {
		return st, result
	}
	if err := c.sleep(ctx); err != nil {
		res := c.finish(st, models.CloseTimeout, false)
		return st, &res
	}
	return st, nil
}

func (c *Closer) bumpNoProgress(st closeState, thinBook bool) (closeState, *models.CloseResult) {
	st.noProgress++
	if st.noProgress >= c.cfg.Execution.CloseNoProgressRetries {
		code := models.CloseNoProgress
		if thinBook {
			code = models.CloseIncompleteThinBook
		}
		res := c.finish(st, code, false)
		return st, &res
	}
	return st, nil
}

func (c *Closer) finish(st closeState, code models.CloseCode, success bool) models.CloseResult {
	remaining := st.lastQty
	if remaining < 0 {
		remaining = 0
	}
	if success {
		remaining = 0
	}
	return models.CloseResult{
		Success:        success,
		Code:           code,
		RemainingQty:   remaining,
		Attempts:       st.attempts,
		OrdersSent:     st.ordersSent,
		ElapsedSeconds: time.Since(st.startedAt).Seconds(),
	}
}

func (c *Closer) sleep(ctx context.Context) error {
	interval := time.Duration(c.cfg.Execution.CloseRetryIntervalSeconds * float64(time.Second))
	if interval <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(interval):
		return nil
	}
}

func (c *Closer) marketLimits(ctx context.Context, symbol string, st *closeState) *models.MarketLimits {
	if st.limitsFetched {
		return st.limits
	}
	st.limitsFetched = true
	limits, err := c.client.GetMarketLimits(ctx, symbol)
	if err != nil {
		c.logEntry(symbol).WithError(err).Warn("Не удалось получить лимиты инструмента, закрываем без них.")
		return nil
	}
	st.limits = limits
	return limits
}

// availableLiquidity суммирует объём противоположной стороны стакана
// в пределах полосы проскальзывания от референсной цены.
func availableLiquidity(book *models.OrderBookSnapshot, closeSide models.Side, refPrice, maxSlippageBps float64) float64 {
	band := maxSlippageBps / 10000.0
	total := 0.0
	if closeSide == models.SideBuy {
		limit := refPrice * (1 + band)
		for _, level := range book.Asks {
			if level.Price <= limit {
				total += level.Qty
			}
		}
		return total
	}
	limit := refPrice * (1 - band)
	for _, level := range book.Bids {
		if level.Price >= limit {
			total += level.Qty
		}
	}
	return total
}

// clientOrderToken — уникальный идемпотентный токен на каждую реальную отправку,
// ограниченный 31-битным диапазоном.
func clientOrderToken(seed int64, attempts, ordersSent int) int64 {
	return (seed + int64(attempts)*1000 + int64(ordersSent)) & 0x7FFFFFFF
}

func (c *Closer) logEntry(symbol string) *logrus.Entry {
	return c.log.WithComponent("closer").WithField("symbol", symbol)
}
