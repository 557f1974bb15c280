package exchange

import (
	"context"

	"grvtbot/internal/models"
)

// AccountSummary — сводка по счёту. EquityUSDT == nil, если из ответа биржи
// не удалось извлечь equity ни одной из известных стратегий.
type AccountSummary struct {
	EquityUSDT *float64
	Raw        map[string]interface{}
}

type Client interface {
	GetOpenPosition(ctx context.Context, symbol string) (*models.Position, error)
	GetReferencePrice(ctx context.Context, symbol string, side models.Side) (float64, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error)
	GetMarketLimits(ctx context.Context, symbol string) (*models.MarketLimits, error)
	GetAccountSummary(ctx context.Context) (*AccountSummary, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty float64, linkID string) (*models.OrderAck, error)
	PlaceReduceOnlyMarketOrder(ctx context.Context, symbol string, side models.Side, qty float64, linkID string) (*models.OrderAck, error)
}
