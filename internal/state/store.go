package state

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"time"

	"grvtbot/internal/fsatomic"
	"grvtbot/internal/logger"
	"grvtbot/internal/models"
)

// RuntimeState — единственный персистентный документ бота.
// Источник истины для восстановления после падения; open_position до сверки
// с биржей считается только кэшем.
type RuntimeState struct {
	Version              int              `json:"version"`
	Halted               bool             `json:"halted"`
	HaltReason           string           `json:"halt_reason"`
	OpenPosition         *models.Position `json:"open_position"`
	PendingAction        string           `json:"pending_action,omitempty"`
	LastCloseAttemptAt   *time.Time       `json:"last_close_attempt_at,omitempty"`
	CloseAttemptCount    int              `json:"close_attempt_count"`
	LastCloseReason      string           `json:"last_close_reason"`
	BaselineEquityUSDT   *float64         `json:"baseline_equity_usdt,omitempty"`
	LastCandleOpenTimeMs *int64           `json:"last_candle_open_time_ms,omitempty"`
	LastLoopStartedAt    *time.Time       `json:"last_loop_started_at,omitempty"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func DefaultState() *RuntimeState {
	return &RuntimeState{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
}

type Store struct {
	path string
	log  *logger.Logger
}

func NewStore(path string, log *logger.Logger) *Store {
	return &Store{path: path, log: log}
}

// Load читает состояние с диска. Отсутствующий файл создаётся с дефолтами,
// нечитаемый — заменяется дефолтами: порча состояния не валит процесс.
// Прочитанный документ накладывается поверх дефолтов, поэтому новые поля
// получают разумные значения без потери известных.
func (s *Store) Load() *RuntimeState {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		state := DefaultState()
		if saveErr := s.Save(state); saveErr != nil {
			s.log.WithComponent("state").WithError(saveErr).Error("Не удалось записать начальное состояние.")
		}
		return state
	}
	if err != nil {
		s.log.WithComponent("state").WithError(err).Error("Не удалось прочитать файл состояния, откат к дефолтам.")
		state := DefaultState()
		if saveErr := s.Save(state); saveErr != nil {
			s.log.WithComponent("state").WithError(saveErr).Error("Не удалось записать начальное состояние.")
		}
		return state
	}

	state := DefaultState()
	if err := json.Unmarshal(data, state); err != nil {
		s.log.WithComponent("state").WithError(err).Error("Файл состояния повреждён, откат к дефолтам.")
		state = DefaultState()
		if saveErr := s.Save(state); saveErr != nil {
			s.log.WithComponent("state").WithError(saveErr).Error("Не удалось записать начальное состояние.")
		}
	}
	return state
}

// Save ставит отметку времени и атомарно переписывает документ целиком.
func (s *Store) Save(state *RuntimeState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return fsatomic.WriteFile(s.path, append(data, '\n'), 0o600)
}

func (s *Store) SetHalted(halted bool, reason string) (*RuntimeState, error) {
	state := s.Load()
	state.Halted = halted
	state.HaltReason = reason
	return state, s.Save(state)
}

func (s *Store) SetOpenPosition(position *models.Position) (*RuntimeState, error) {
	state := s.Load()
	state.OpenPosition = position
	return state, s.Save(state)
}

func (s *Store) SetBaselineEquity(equityUSDT *float64) (*RuntimeState, error) {
	state := s.Load()
	state.BaselineEquityUSDT = equityUSDT
	return state, s.Save(state)
}

func (s *Store) SetLastCandleOpenTime(tsMs *int64) (*RuntimeState, error) {
	state := s.Load()
	state.LastCandleOpenTimeMs = tsMs
	return state, s.Save(state)
}

// PositionProvider — read-only взгляд на биржу для сверки.
type PositionProvider interface {
	GetOpenPosition(ctx context.Context, symbol string) (*models.Position, error)
}

type ReconcileResult struct {
	Mismatch         bool
	ExchangePosition *models.Position
	LocalPosition    *models.Position
	State            *RuntimeState
	Reason           string
}

// Reconcile сверяет локальную позицию с биржевой. Биржа всегда источник
// истины: при любом расхождении локальное состояние перезаписывается её
// взглядом и сохраняется до возврата результата.
func (s *Store) Reconcile(ctx context.Context, provider PositionProvider, symbol string, qtyTolerance float64) (ReconcileResult, error) {
	state := s.Load()
	local := state.OpenPosition

	exchangePos, err := provider.GetOpenPosition(ctx, symbol)
	if err != nil {
		return ReconcileResult{}, err
	}

	mismatch := positionsMismatch(local, exchangePos, qtyTolerance)
	reason := "positions_match"
	if mismatch {
		reason = "position_mismatch_reconciled"
		state.OpenPosition = exchangePos
		if err := s.Save(state); err != nil {
			return ReconcileResult{}, err
		}
	}

	return ReconcileResult{
		Mismatch:         mismatch,
		ExchangePosition: exchangePos,
		LocalPosition:    local,
		State:            state,
		Reason:           reason,
	}, nil
}

func positionsMismatch(local, exchange *models.Position, qtyTolerance float64) bool {
	if local == nil && exchange == nil {
		return false
	}
	if (local == nil) != (exchange == nil) {
		return true
	}
	if local.Side != exchange.Side {
		return true
	}
	return math.Abs(local.AmountBase-exchange.AmountBase) > qtyTolerance
}
