package grvt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type grvtError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// doRequest отправляет POST с JSON-телом — все эндпоинты GRVT принимают POST.
// auth добавляет API-ключ; ответ разбирается в out, обёртка ошибки проверяется.
func (c *Client) doRequest(ctx context.Context, path string, body any, auth bool, out any) error {
	payload, err := jsonAPI.Marshal(body)
	if err != nil {
		return fmt.Errorf("Не удалось подготовить тело запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("Не удалось создать запрос: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("X-Grvt-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Ошибка запроса: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("Не удалось прочитать ответ: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("GRVT ответил статусом %d: %s", resp.StatusCode, string(data))
	}

	var apiErr grvtError
	if err := jsonAPI.Unmarshal(data, &apiErr); err == nil && apiErr.Code != 0 {
		return fmt.Errorf("Ошибка GRVT API (code=%d): %s", apiErr.Code, apiErr.Message)
	}

	if out != nil {
		if err := jsonAPI.Unmarshal(data, out); err != nil {
			return fmt.Errorf("Не удалось разобрать ответ: %w", err)
		}
	}
	return nil
}
