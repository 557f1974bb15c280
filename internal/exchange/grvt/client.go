package grvt

import (
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"grvtbot/internal/logger"
)

// Client — адаптер GRVT: REST для торговых операций и данных,
// WS-кэш последней цены для быстрых референсных запросов.
type Client struct {
	baseURL      string
	wsURL        string
	apiKey       string
	tradingAccID string
	subAccountID string
	httpClient   *http.Client
	log          *logger.Logger

	mu         sync.Mutex
	lastPrices map[string]tickerCacheEntry
	wsStop     chan struct{}
	wsStarted  bool
}

type tickerCacheEntry struct {
	price     float64
	updatedAt time.Time
}

// Кэш цены из WS считается свежим в пределах этого окна,
// дальше уходим в REST.
const tickerCacheTTL = 5 * time.Second

func New(baseURL, wsURL, apiKey, tradingAccountID, subAccountID string, log *logger.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		wsURL:        wsURL,
		apiKey:       apiKey,
		tradingAccID: tradingAccountID,
		subAccountID: subAccountID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log:        log,
		lastPrices: make(map[string]tickerCacheEntry),
		wsStop:     make(chan struct{}),
	}
}

func (c *Client) logEntry() *logrus.Entry {
	return c.log.WithComponent("grvt")
}
