package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func NormalizeSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return SideBuy, nil
	case "sell", "short":
		return SideSell, nil
	}
	return "", fmt.Errorf("Неизвестная сторона сделки: %q", raw)
}

// Position — открытая позиция в том виде, в котором её сообщает биржа.
// AmountBase всегда абсолютный размер по данным биржи, не локальная оценка.
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	AmountBase float64   `json:"amount_base"`
	EntryPrice float64   `json:"entry_price"`
	OpenedAt   time.Time `json:"opened_at"`
}

// MarketLimits — ограничения инструмента. Nil-поля биржа не сообщила.
type MarketLimits struct {
	MinQty       *float64 `json:"min_qty,omitempty"`
	TickSize     *float64 `json:"tick_size,omitempty"`
	BaseDecimals *int     `json:"base_decimals,omitempty"`
}

type PriceLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// OrderBookSnapshot — срез стакана: bids по убыванию цены, asks по возрастанию.
type OrderBookSnapshot struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

type OrderAck struct {
	ID     string `json:"id"`
	LinkID string `json:"link_id"`
}

type CloseCode string

const (
	CloseSuccess            CloseCode = "CLOSE_SUCCESS"
	CloseTimeout            CloseCode = "CLOSE_TIMEOUT"
	CloseNoProgress         CloseCode = "CLOSE_NO_PROGRESS"
	CloseIncompleteThinBook CloseCode = "CLOSE_INCOMPLETE_THIN_BOOK"
	CloseInvalidSide        CloseCode = "CLOSE_INVALID_SIDE"
)

// CloseResult — итог одного вызова адаптивного закрытия.
type CloseResult struct {
	Success        bool      `json:"success"`
	Code           CloseCode `json:"code"`
	RemainingQty   float64   `json:"remaining_qty"`
	Attempts       int       `json:"attempts"`
	OrdersSent     int       `json:"orders_sent"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// RoundToDecimals округляет до decimals знаков, половина — от нуля.
func RoundToDecimals(value float64, decimals int) float64 {
	if decimals < 0 {
		decimals = 0
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(value*pow) / pow
}

func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
