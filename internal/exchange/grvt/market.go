package grvt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"grvtbot/internal/models"
)

type tickerResult struct {
	Result struct {
		LastPrice    string `json:"last_price"`
		BestBidPrice string `json:"best_bid_price"`
		BestAskPrice string `json:"best_ask_price"`
		MarkPrice    string `json:"mark_price"`
	} `json:"result"`
}

// GetReferencePrice возвращает цену для стороны, которую будет потреблять
// ордер: покупка смотрит на ask, продажа — на bid, иначе last.
// Свежий WS-кэш используется вместо REST.
func (c *Client) GetReferencePrice(ctx context.Context, symbol string, side models.Side) (float64, error) {
	if price, ok := c.cachedPrice(symbol); ok {
		return price, nil
	}

	var resp tickerResult
	if err := c.doRequest(ctx, "/full/v1/ticker", map[string]any{"instrument": symbol}, false, &resp); err != nil {
		return 0, err
	}

	candidates := []string{resp.Result.LastPrice, resp.Result.MarkPrice}
	if side == models.SideBuy {
		candidates = []string{resp.Result.BestAskPrice, resp.Result.LastPrice, resp.Result.MarkPrice}
	} else if side == models.SideSell {
		candidates = []string{resp.Result.BestBidPrice, resp.Result.LastPrice, resp.Result.MarkPrice}
	}

	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err == nil && price > 0 {
			return price, nil
		}
	}
	return 0, fmt.Errorf("В тикере %s нет пригодной цены.", symbol)
}

func (c *Client) cachedPrice(symbol string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lastPrices[symbol]
	if !ok || time.Since(entry.updatedAt) > tickerCacheTTL || entry.price <= 0 {
		return 0, false
	}
	return entry.price, true
}

type bookResult struct {
	Result struct {
		Bids []bookLevel `json:"bids"`
		Asks []bookLevel `json:"asks"`
	} `json:"result"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error) {
	var resp bookResult
	body := map[string]any{"instrument": symbol, "depth": depth}
	if err := c.doRequest(ctx, "/full/v1/book", body, false, &resp); err != nil {
		return nil, err
	}

	snapshot := &models.OrderBookSnapshot{}
	for _, level := range resp.Result.Bids {
		if parsed, ok := parseLevel(level); ok {
			snapshot.Bids = append(snapshot.Bids, parsed)
		}
	}
	for _, level := range resp.Result.Asks {
		if parsed, ok := parseLevel(level); ok {
			snapshot.Asks = append(snapshot.Asks, parsed)
		}
	}
	return snapshot, nil
}

func parseLevel(level bookLevel) (models.PriceLevel, bool) {
	price, err := strconv.ParseFloat(level.Price, 64)
	if err != nil || price <= 0 {
		return models.PriceLevel{}, false
	}
	size, err := strconv.ParseFloat(level.Size, 64)
	if err != nil || size < 0 {
		return models.PriceLevel{}, false
	}
	return models.PriceLevel{Price: price, Qty: size}, true
}

type instrumentResult struct {
	Result struct {
		MinSize      string `json:"min_size"`
		TickSize     string `json:"tick_size"`
		BaseDecimals int    `json:"base_decimals"`
	} `json:"result"`
}

func (c *Client) GetMarketLimits(ctx context.Context, symbol string) (*models.MarketLimits, error) {
	var resp instrumentResult
	if err := c.doRequest(ctx, "/full/v1/instrument", map[string]any{"instrument": symbol}, false, &resp); err != nil {
		return nil, err
	}

	limits := &models.MarketLimits{}
	if minQty, err := strconv.ParseFloat(resp.Result.MinSize, 64); err == nil {
		limits.MinQty = models.Float(minQty)
	}
	if tick, err := strconv.ParseFloat(resp.Result.TickSize, 64); err == nil {
		limits.TickSize = models.Float(tick)
	}
	if resp.Result.BaseDecimals > 0 {
		limits.BaseDecimals = models.Int(resp.Result.BaseDecimals)
	}
	return limits, nil
}
