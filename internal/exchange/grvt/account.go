package grvt

import (
	"context"
	"math"
	"strconv"
	"time"

	"grvtbot/internal/exchange"
	"grvtbot/internal/models"
)

type positionsResult struct {
	Result []struct {
		Instrument string `json:"instrument"`
		Size       string `json:"size"`
		EntryPrice string `json:"entry_price"`
		EventTime  string `json:"event_time"`
	} `json:"result"`
}

// GetOpenPosition возвращает позицию по символу или nil, если её нет.
// Знак size кодирует сторону, наружу уходит абсолютный размер.
func (c *Client) GetOpenPosition(ctx context.Context, symbol string) (*models.Position, error) {
	var resp positionsResult
	body := map[string]any{"sub_account_id": c.subAccountID}
	if err := c.doRequest(ctx, "/full/v1/positions", body, true, &resp); err != nil {
		return nil, err
	}

	for _, item := range resp.Result {
		if item.Instrument != symbol {
			continue
		}
		size, err := strconv.ParseFloat(item.Size, 64)
		if err != nil || size == 0 {
			continue
		}

		side := models.SideBuy
		if size < 0 {
			side = models.SideSell
		}
		entryPrice, _ := strconv.ParseFloat(item.EntryPrice, 64)

		openedAt := time.Time{}
		if tsNs, err := strconv.ParseInt(item.EventTime, 10, 64); err == nil && tsNs > 0 {
			openedAt = time.Unix(0, tsNs)
		}

		return &models.Position{
			Symbol:     symbol,
			Side:       side,
			AmountBase: math.Abs(size),
			EntryPrice: entryPrice,
			OpenedAt:   openedAt,
		}, nil
	}
	return nil, nil
}

// GetAccountSummary получает сводку счёта и извлекает equity
// упорядоченным списком стратегий (см. equity.go).
func (c *Client) GetAccountSummary(ctx context.Context) (*exchange.AccountSummary, error) {
	var raw map[string]interface{}
	body := map[string]any{"sub_account_id": c.subAccountID}
	if err := c.doRequest(ctx, "/full/v1/account_summary", body, true, &raw); err != nil {
		return nil, err
	}

	summary := &exchange.AccountSummary{Raw: raw}
	if equity, ok := ExtractEquityUSDT(raw); ok {
		summary.EquityUSDT = models.Float(equity)
	} else {
		c.logEntry().Warn("Не удалось извлечь equity из сводки счёта.")
	}
	return summary, nil
}
