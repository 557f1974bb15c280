package grvt

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"grvtbot/internal/models"
)

type orderResult struct {
	Result struct {
		OrderID       string `json:"order_id"`
		ClientOrderID string `json:"client_order_id"`
	} `json:"result"`
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty float64, linkID string) (*models.OrderAck, error) {
	return c.createMarketOrder(ctx, symbol, side, qty, linkID, false)
}

func (c *Client) PlaceReduceOnlyMarketOrder(ctx context.Context, symbol string, side models.Side, qty float64, linkID string) (*models.OrderAck, error) {
	return c.createMarketOrder(ctx, symbol, side, qty, linkID, true)
}

func (c *Client) createMarketOrder(ctx context.Context, symbol string, side models.Side, qty float64, linkID string, reduceOnly bool) (*models.OrderAck, error) {
	if linkID == "" {
		return nil, fmt.Errorf("Пустой client_order_id.")
	}
	if qty <= 0 {
		return nil, fmt.Errorf("Недопустимый объём ордера: %v", qty)
	}

	body := map[string]any{
		"sub_account_id":  c.subAccountID,
		"instrument":      symbol,
		"is_market":       true,
		"side":            strings.ToUpper(string(side)),
		"size":            formatQty(qty),
		"reduce_only":     reduceOnly,
		"client_order_id": linkID,
		"time_in_force":   "IMMEDIATE_OR_CANCEL",
	}

	c.logEntry().WithFields(logrus.Fields{
		"symbol":      symbol,
		"side":        side,
		"qty":         qty,
		"reduce_only": reduceOnly,
		"link_id":     linkID,
	}).Debug("Отправка рыночного ордера.")

	var resp orderResult
	if err := c.doRequest(ctx, "/full/v1/create_order", body, true, &resp); err != nil {
		return nil, err
	}
	if resp.Result.OrderID == "" {
		return nil, fmt.Errorf("Биржа не вернула order_id.")
	}

	return &models.OrderAck{ID: resp.Result.OrderID, LinkID: linkID}, nil
}

func formatQty(qty float64) string {
	formatted := strconv.FormatFloat(qty, 'f', 12, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	if formatted == "" || formatted == "-0" {
		return "0"
	}
	return formatted
}
