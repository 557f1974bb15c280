package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grvtbot/internal/logger"
	"grvtbot/internal/models"
)

type stubProvider struct {
	position *models.Position
	err      error
}

func (p *stubProvider) GetOpenPosition(ctx context.Context, symbol string) (*models.Position, error) {
	return p.position, p.err
}

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime_state.json")
	return NewStore(path, logger.New(logger.Config{Level: "fatal"}))
}

func TestLoadCreatesDefaultsWhenMissing(t *testing.T) {
	store := testStore(t)

	st := store.Load()

	assert.Equal(t, 1, st.Version)
	assert.False(t, st.Halted)
	assert.Nil(t, st.OpenPosition)

	_, err := os.Stat(store.path)
	assert.NoError(t, err)
}

func TestLoadFallsBackOnCorruptFile(t *testing.T) {
	store := testStore(t)
	require.NoError(t, os.WriteFile(store.path, []byte("{не json"), 0o600))

	st := store.Load()

	assert.Equal(t, 1, st.Version)
	assert.False(t, st.Halted)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	store := testStore(t)

	st := DefaultState()
	st.Halted = true
	st.HaltReason = "MAX_DRAWDOWN_HIT"
	st.BaselineEquityUSDT = models.Float(1234.5)
	st.CloseAttemptCount = 2
	st.LastCloseReason = "CLOSE_TIMEOUT"
	st.OpenPosition = &models.Position{
		Symbol:     "BTC_USDT_Perp",
		Side:       models.SideBuy,
		AmountBase: 0.5,
		EntryPrice: 50000,
		OpenedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Save(st))

	loaded := store.Load()

	assert.True(t, loaded.Halted)
	assert.Equal(t, "MAX_DRAWDOWN_HIT", loaded.HaltReason)
	require.NotNil(t, loaded.BaselineEquityUSDT)
	assert.InDelta(t, 1234.5, *loaded.BaselineEquityUSDT, 1e-9)
	assert.Equal(t, 2, loaded.CloseAttemptCount)
	require.NotNil(t, loaded.OpenPosition)
	assert.Equal(t, models.SideBuy, loaded.OpenPosition.Side)
	assert.InDelta(t, 0.5, loaded.OpenPosition.AmountBase, 1e-12)
}

func TestSetHaltedPersists(t *testing.T) {
	store := testStore(t)

	_, err := store.SetHalted(true, "repeated_errors")
	require.NoError(t, err)

	st := store.Load()
	assert.True(t, st.Halted)
	assert.Equal(t, "repeated_errors", st.HaltReason)
}

func TestReconcileMatch(t *testing.T) {
	store := testStore(t)
	position := &models.Position{Symbol: "BTC_USDT_Perp", Side: models.SideBuy, AmountBase: 1.0}
	_, err := store.SetOpenPosition(position)
	require.NoError(t, err)

	result, err := store.Reconcile(context.Background(), &stubProvider{position: position}, "BTC_USDT_Perp", 1e-6)

	require.NoError(t, err)
	assert.False(t, result.Mismatch)
	assert.Equal(t, "positions_match", result.Reason)
}

func TestReconcileMismatchAdoptsExchangeView(t *testing.T) {
	store := testStore(t)
	local := &models.Position{Symbol: "BTC_USDT_Perp", Side: models.SideBuy, AmountBase: 1.0}
	_, err := store.SetOpenPosition(local)
	require.NoError(t, err)

	// Биржа говорит, что позиции нет — её взгляд побеждает и сохраняется.
	result, err := store.Reconcile(context.Background(), &stubProvider{}, "BTC_USDT_Perp", 1e-6)

	require.NoError(t, err)
	assert.True(t, result.Mismatch)
	assert.Equal(t, "position_mismatch_reconciled", result.Reason)
	assert.Nil(t, result.ExchangePosition)
	require.NotNil(t, result.LocalPosition)

	reloaded := store.Load()
	assert.Nil(t, reloaded.OpenPosition)
}

func TestReconcileMismatchOnQtyDrift(t *testing.T) {
	store := testStore(t)
	_, err := store.SetOpenPosition(&models.Position{Symbol: "BTC_USDT_Perp", Side: models.SideBuy, AmountBase: 1.0})
	require.NoError(t, err)

	exchangeView := &models.Position{Symbol: "BTC_USDT_Perp", Side: models.SideBuy, AmountBase: 0.7}
	result, err := store.Reconcile(context.Background(), &stubProvider{position: exchangeView}, "BTC_USDT_Perp", 1e-6)

	require.NoError(t, err)
	assert.True(t, result.Mismatch)

	reloaded := store.Load()
	require.NotNil(t, reloaded.OpenPosition)
	assert.InDelta(t, 0.7, reloaded.OpenPosition.AmountBase, 1e-12)
}

func TestReconcileToleratesSmallQtyNoise(t *testing.T) {
	store := testStore(t)
	_, err := store.SetOpenPosition(&models.Position{Symbol: "BTC_USDT_Perp", Side: models.SideBuy, AmountBase: 1.0})
	require.NoError(t, err)

	exchangeView := &models.Position{Symbol: "BTC_USDT_Perp", Side: models.SideBuy, AmountBase: 1.0 + 1e-9}
	result, err := store.Reconcile(context.Background(), &stubProvider{position: exchangeView}, "BTC_USDT_Perp", 1e-6)

	require.NoError(t, err)
	assert.False(t, result.Mismatch)
}

func TestReconcilePropagatesProviderError(t *testing.T) {
	store := testStore(t)

	_, err := store.Reconcile(context.Background(), &stubProvider{err: errors.New("биржа недоступна")}, "BTC_USDT_Perp", 1e-6)

	assert.Error(t, err)
}
