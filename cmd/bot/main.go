package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grvtbot/internal/alerts"
	"grvtbot/internal/closer"
	"grvtbot/internal/config"
	"grvtbot/internal/engine"
	"grvtbot/internal/exchange/grvt"
	"grvtbot/internal/lock"
	"grvtbot/internal/logger"
	"grvtbot/internal/risk"
	"grvtbot/internal/state"
	"grvtbot/internal/strategy"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	logger.Info("Бот запущен.")

	runtimeLock := lock.New(cfg.Ops.LockFile, logger)
	if err := runtimeLock.Acquire(); err != nil {
		logger.WithError(err).Fatal("Не удалось получить lock процесса.")
	}
	defer runtimeLock.Release()

	if cfg.Ops.MetricsPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Ops.MetricsPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.WithError(err).Error("Сервер метрик завершился.")
			}
		}()
	}

	client := grvt.New(cfg.Exchange.BaseUrl, cfg.Exchange.WSUrl, cfg.Exchange.ApiKey, cfg.Exchange.TradingAccountID, cfg.Exchange.SubAccountID, logger)
	store := state.NewStore(cfg.Ops.StateFile, logger)
	riskEngine := risk.New(cfg, logger)
	positionCloser := closer.New(client, cfg, logger)
	alertManager := alerts.New(cfg, logger)
	strat := strategy.NewRandom(cfg, logger)

	eng := engine.New(cfg, client, store, riskEngine, positionCloser, alertManager, strat, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.StartTicker(ctx, cfg.Trading.Symbol)
	defer client.StopTicker()

	// Ошибка уходит в main через канал: Fatal в горутине не дал бы
	// отработать отложенному снятию lock.
	errCh := make(chan error, 1)
	go func() {
		errCh <- eng.Run(ctx)
	}()

	select {
	case <-sigCh:
		cancel()
		<-errCh
	case err := <-errCh:
		cancel()
		if err != nil {
			logger.WithError(err).Error("\"Двигатель\" завершился с ошибкой.")
		}
	}

	logger.Info("Бот остановлен.")
}
