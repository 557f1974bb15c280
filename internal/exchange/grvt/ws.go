package grvt

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

type wsSubscribe struct {
	Method string   `json:"method"`
	Stream string   `json:"stream"`
	Feed   []string `json:"feed"`
}

type wsTickerMessage struct {
	Stream string `json:"stream"`
	Feed   struct {
		Instrument string `json:"instrument"`
		LastPrice  string `json:"last_price"`
	} `json:"feed"`
}

// StartTicker подписывается на поток тикера и держит кэш последней цены.
// Обрывы соединения переживаются с экспоненциальным backoff; кэш при этом
// устаревает сам, и GetReferencePrice уходит в REST.
func (c *Client) StartTicker(ctx context.Context, symbol string) {
	c.mu.Lock()
	if c.wsStarted {
		c.mu.Unlock()
		return
	}
	c.wsStarted = true
	stop := make(chan struct{})
	c.wsStop = stop
	c.mu.Unlock()

	go c.tickerLoop(ctx, symbol, stop)
}

func (c *Client) StopTicker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsStarted {
		close(c.wsStop)
		c.wsStarted = false
	}
}

func (c *Client) tickerLoop(ctx context.Context, symbol string, stop <-chan struct{}) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
		if err != nil {
			c.logEntry().WithError(err).Warn("Не удалось подключиться к WS тикера.")
			if !c.wait(ctx, backoff, stop) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		conn.SetReadLimit(1 << 20)

		sub := wsSubscribe{Method: "subscribe", Stream: "ticker.s", Feed: []string{symbol}}
		if err := conn.WriteJSON(sub); err != nil {
			c.logEntry().WithError(err).Warn("Не удалось подписаться на тикер.")
			_ = conn.Close()
			if !c.wait(ctx, backoff, stop) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		c.logEntry().WithField("symbol", symbol).Info("WS тикер подключён.")
		backoff = time.Second

		if !c.readTicker(ctx, conn, stop) {
			_ = conn.Close()
			return
		}
		_ = conn.Close()
	}
}

// readTicker читает сообщения до обрыва. false — надо завершаться совсем.
func (c *Client) readTicker(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logEntry().WithError(err).Warn("Ошибка чтения WS тикера.")
			return true
		}

		var msg wsTickerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		price, err := strconv.ParseFloat(msg.Feed.LastPrice, 64)
		if err != nil || price <= 0 {
			continue
		}

		c.mu.Lock()
		c.lastPrices[msg.Feed.Instrument] = tickerCacheEntry{price: price, updatedAt: time.Now()}
		c.mu.Unlock()
	}
}

func (c *Client) wait(ctx context.Context, d time.Duration, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
