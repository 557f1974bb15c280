package grvt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grvtbot/internal/logger"
	"grvtbot/internal/models"
)

func testClient(serverURL string) *Client {
	return New(serverURL, "", "test-key", "acc", "0", logger.New(logger.Config{Level: "fatal"}))
}

func TestGetReferencePriceBuyPrefersAsk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/full/v1/ticker", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"last_price":     "100.0",
			"best_bid_price": "99.5",
			"best_ask_price": "100.5",
			"mark_price":     "100.1",
		}})
	}))
	defer server.Close()
	client := testClient(server.URL)

	price, err := client.GetReferencePrice(context.Background(), "BTC_USDT_Perp", models.SideBuy)

	require.NoError(t, err)
	assert.InDelta(t, 100.5, price, 1e-9)
}

func TestGetReferencePriceSellPrefersBid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"last_price":     "100.0",
			"best_bid_price": "99.5",
			"best_ask_price": "100.5",
		}})
	}))
	defer server.Close()
	client := testClient(server.URL)

	price, err := client.GetReferencePrice(context.Background(), "BTC_USDT_Perp", models.SideSell)

	require.NoError(t, err)
	assert.InDelta(t, 99.5, price, 1e-9)
}

func TestGetReferencePriceFallsBackToLast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"last_price": "100.0"}})
	}))
	defer server.Close()
	client := testClient(server.URL)

	price, err := client.GetReferencePrice(context.Background(), "BTC_USDT_Perp", models.SideBuy)

	require.NoError(t, err)
	assert.InDelta(t, 100.0, price, 1e-9)
}

func TestGetReferencePriceUsesFreshCache(t *testing.T) {
	client := testClient("http://127.0.0.1:1") // REST недостижим
	client.mu.Lock()
	client.lastPrices["BTC_USDT_Perp"] = tickerCacheEntry{price: 123.0, updatedAt: time.Now()}
	client.mu.Unlock()

	price, err := client.GetReferencePrice(context.Background(), "BTC_USDT_Perp", models.SideBuy)

	require.NoError(t, err)
	assert.InDelta(t, 123.0, price, 1e-9)
}

func TestGetOrderBookParsesLevels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/full/v1/book", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"bids": []map[string]string{{"price": "99.9", "size": "2.0"}, {"price": "мусор", "size": "1"}},
			"asks": []map[string]string{{"price": "100.1", "size": "3.0"}},
		}})
	}))
	defer server.Close()
	client := testClient(server.URL)

	book, err := client.GetOrderBook(context.Background(), "BTC_USDT_Perp", 20)

	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.InDelta(t, 99.9, book.Bids[0].Price, 1e-9)
	assert.InDelta(t, 3.0, book.Asks[0].Qty, 1e-9)
}

func TestGetMarketLimits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"min_size":      "0.001",
			"tick_size":     "0.1",
			"base_decimals": 3,
		}})
	}))
	defer server.Close()
	client := testClient(server.URL)

	limits, err := client.GetMarketLimits(context.Background(), "BTC_USDT_Perp")

	require.NoError(t, err)
	require.NotNil(t, limits.MinQty)
	assert.InDelta(t, 0.001, *limits.MinQty, 1e-12)
	require.NotNil(t, limits.BaseDecimals)
	assert.Equal(t, 3, *limits.BaseDecimals)
}

func TestGetOpenPositionSignedSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Grvt-Api-Key"))
		json.NewEncoder(w).Encode(map[string]any{"result": []map[string]string{
			{"instrument": "ETH_USDT_Perp", "size": "5.0", "entry_price": "3000"},
			{"instrument": "BTC_USDT_Perp", "size": "-0.5", "entry_price": "50000"},
		}})
	}))
	defer server.Close()
	client := testClient(server.URL)

	position, err := client.GetOpenPosition(context.Background(), "BTC_USDT_Perp")

	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, models.SideSell, position.Side)
	assert.InDelta(t, 0.5, position.AmountBase, 1e-12)
	assert.InDelta(t, 50000.0, position.EntryPrice, 1e-9)
}

func TestGetOpenPositionNone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": []map[string]string{}})
	}))
	defer server.Close()
	client := testClient(server.URL)

	position, err := client.GetOpenPosition(context.Background(), "BTC_USDT_Perp")

	require.NoError(t, err)
	assert.Nil(t, position)
}

func TestPlaceReduceOnlyMarketOrder(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/full/v1/create_order", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{
			"order_id":        "ord-1",
			"client_order_id": "1042",
		}})
	}))
	defer server.Close()
	client := testClient(server.URL)

	ack, err := client.PlaceReduceOnlyMarketOrder(context.Background(), "BTC_USDT_Perp", models.SideSell, 0.5, "1042")

	require.NoError(t, err)
	assert.Equal(t, "ord-1", ack.ID)
	assert.Equal(t, "1042", ack.LinkID)
	assert.Equal(t, "SELL", captured["side"])
	assert.Equal(t, "0.5", captured["size"])
	assert.Equal(t, true, captured["reduce_only"])
	assert.Equal(t, true, captured["is_market"])
	assert.Equal(t, "1042", captured["client_order_id"])
}

func TestPlaceMarketOrderRejectsEmptyLinkID(t *testing.T) {
	client := testClient("http://127.0.0.1:1")

	_, err := client.PlaceMarketOrder(context.Background(), "BTC_USDT_Perp", models.SideBuy, 1.0, "")

	assert.Error(t, err)
}

func TestDoRequestSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 1006, "message": "нет инструмента"})
	}))
	defer server.Close()
	client := testClient(server.URL)

	_, err := client.GetMarketLimits(context.Background(), "NOPE")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1006")
}

func TestDoRequestSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer server.Close()
	client := testClient(server.URL)

	_, err := client.GetOrderBook(context.Background(), "BTC_USDT_Perp", 20)

	assert.Error(t, err)
}

func TestTickerRestartUsesFreshStopChannel(t *testing.T) {
	client := testClient("http://127.0.0.1:1")
	client.wsURL = "ws://127.0.0.1:1"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.StartTicker(ctx, "BTC_USDT_Perp")
	client.mu.Lock()
	first := client.wsStop
	client.mu.Unlock()
	client.StopTicker()

	client.StartTicker(ctx, "BTC_USDT_Perp")
	client.mu.Lock()
	second := client.wsStop
	client.mu.Unlock()
	defer client.StopTicker()

	assert.NotEqual(t, first, second)
	select {
	case <-second:
		t.Fatal("канал остановки после перезапуска уже закрыт")
	default:
	}
}

func TestFormatQty(t *testing.T) {
	assert.Equal(t, "0.5", formatQty(0.5))
	assert.Equal(t, "1", formatQty(1.0))
	assert.Equal(t, "0.000001", formatQty(0.000001))
}
