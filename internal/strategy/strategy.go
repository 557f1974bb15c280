package strategy

import (
	"math/rand"
	"time"

	"grvtbot/internal/config"
	"grvtbot/internal/logger"
	"grvtbot/internal/models"
)

// Signal — непрозрачный для ядра сигнал стратегии: сторона и желаемый номинал.
// AmountUSDT == nil означает «на усмотрение риск-движка».
type Signal struct {
	Side       models.Side
	AmountUSDT *float64
	Reason     string
}

type Provider interface {
	NextSignal(now time.Time) *Signal
}

// Random — демонстрационная стратегия со случайными сигналами и троттлингом.
// Для продакшена заменяется реальной стратегией, ядро этого не замечает.
type Random struct {
	interval   time.Duration
	amountUSDT float64
	lastSignal time.Time
	rng        *rand.Rand
	log        *logger.Logger
}

func NewRandom(cfg *config.Config, log *logger.Logger) *Random {
	interval := time.Duration(cfg.Trading.LoopIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &Random{
		interval:   interval,
		amountUSDT: cfg.Trading.OrderSizeUSDT,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        log,
	}
}

func (r *Random) NextSignal(now time.Time) *Signal {
	if now.Sub(r.lastSignal) < r.interval {
		return nil
	}

	// Примерно в трети случаев сигнала нет.
	if r.rng.Intn(3) == 0 {
		return nil
	}
	r.lastSignal = now

	side := models.SideBuy
	if r.rng.Intn(2) == 1 {
		side = models.SideSell
	}
	amount := r.amountUSDT

	return &Signal{
		Side:       side,
		AmountUSDT: &amount,
		Reason:     "random demo signal",
	}
}
