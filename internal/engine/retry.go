package engine

import (
	"context"
	"time"

	"grvtbot/internal/exchange"
	"grvtbot/internal/models"
)

const maxRetryAttempts = 3

func (e *Engine) withRetryAccountSummary(ctx context.Context) (*exchange.AccountSummary, error) {
	backoff := e.initialBackoff()
	var lastErr error

	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		summary, err := e.client.GetAccountSummary(ctx)
		if err == nil {
			return summary, nil
		}
		lastErr = err
		e.logEntry().WithError(err).WithField("attempt", attempt).Warn("Не удалось получить сводку счёта, повтор.")

		if attempt == maxRetryAttempts {
			break
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (e *Engine) withRetryPosition(ctx context.Context, symbol string) (*models.Position, error) {
	backoff := e.initialBackoff()
	var lastErr error

	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		position, err := e.client.GetOpenPosition(ctx, symbol)
		if err == nil {
			return position, nil
		}
		lastErr = err
		e.logEntry().WithError(err).WithField("attempt", attempt).Warn("Не удалось получить позицию, повтор.")

		if attempt == maxRetryAttempts {
			break
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (e *Engine) initialBackoff() time.Duration {
	backoff := time.Duration(e.cfg.Ops.ErrorBackoffSeconds) * time.Second
	if backoff <= 0 {
		backoff = time.Second
	}
	return backoff
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
