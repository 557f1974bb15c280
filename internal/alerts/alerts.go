package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"grvtbot/internal/config"
	"grvtbot/internal/logger"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Manager классифицирует события и доставляет их в лог и,
// опционально, в Telegram. Ошибка доставки никогда не мешает торговле.
type Manager struct {
	cfg        config.AlertsConfig
	log        *logger.Logger
	httpClient *http.Client
	apiBase    string
	botToken   string
	chatID     string
}

func New(cfg *config.Config, log *logger.Logger) *Manager {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		token = cfg.Alerts.TelegramBotToken
	}
	chatID := os.Getenv("TELEGRAM_CHAT_ID")
	if chatID == "" {
		chatID = cfg.Alerts.TelegramChatID
	}

	return &Manager{
		cfg:        cfg.Alerts,
		log:        log,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		apiBase:    "https://api.telegram.org",
		botToken:   token,
		chatID:     chatID,
	}
}

func (m *Manager) Send(message string, level Level) {
	entry := m.log.WithComponent("alerts")
	switch level {
	case LevelError:
		entry.Error(message)
	case LevelWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}

	if !m.cfg.Enabled || !m.cfg.TelegramEnabled {
		return
	}
	if m.botToken == "" || m.chatID == "" {
		entry.Debug("Telegram-алерт пропущен: не настроены token/chat_id.")
		return
	}

	if err := m.sendTelegram(message); err != nil {
		entry.WithError(err).Warn("Не удалось доставить Telegram-алерт.")
	}
}

func (m *Manager) sendTelegram(text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": m.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", m.apiBase, m.botToken)
	resp, err := m.httpClient.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("Telegram ответил статусом %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
