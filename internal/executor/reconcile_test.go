package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlindqvist/scalpd/internal/domain"
)

func savedPosition() domain.Position {
	return domain.Position{
		InstID:      "BTC-USDT-SWAP",
		Direction:   domain.DirectionLong,
		Side:        "long",
		Size:        2,
		EntryPrice:  65000,
		OrderID:     "ord-1",
		StopOrderID: "algo-1",
		TPOrderID:   "algo-1",
		OpenedAt:    time.Now().UTC().Add(-10 * time.Minute),
	}
}

func livePosition() domain.ExchangePosition {
	return domain.ExchangePosition{
		InstID:     "BTC-USDT-SWAP",
		PosSide:    "long",
		Size:       2,
		MarginMode: domain.MarginIsolated,
		AvgEntry:   65000,
	}
}

func TestReconcileClean(t *testing.T) {
	e := newTestExecutor(t, &fakeTrading{}, &fakeRisk{maxLoss: 100})
	require.NoError(t, e.Reconcile(context.Background()))
	assert.Nil(t, e.pos)
}

func TestReconcileClearsStalePersistedState(t *testing.T) {
	e := newTestExecutor(t, &fakeTrading{}, &fakeRisk{maxLoss: 100})
	require.NoError(t, e.store.SaveTrade(savedPosition()))

	// The exchange has nothing: TP/SL fired while we were down.
	require.NoError(t, e.Reconcile(context.Background()))

	assert.Nil(t, e.pos)
	assert.Nil(t, e.store.LoadTrade())
}

func TestReconcileClosesOrphans(t *testing.T) {
	trading := &fakeTrading{positions: []domain.ExchangePosition{
		livePosition(),
		{InstID: "ETH-USDT-SWAP", PosSide: "short", Size: 5, MarginMode: domain.MarginIsolated},
	}}
	e := newTestExecutor(t, trading, &fakeRisk{maxLoss: 100})

	// No persisted state at all: every live position is unknown exposure.
	require.NoError(t, e.Reconcile(context.Background()))

	assert.Nil(t, e.pos)
	assert.Equal(t, []string{"BTC-USDT-SWAP/long", "ETH-USDT-SWAP/short"}, trading.closes)
}

func TestReconcileResumesMatchedPosition(t *testing.T) {
	trading := &fakeTrading{positions: []domain.ExchangePosition{livePosition()}}
	e := newTestExecutor(t, trading, &fakeRisk{maxLoss: 100})
	require.NoError(t, e.store.SaveTrade(savedPosition()))

	require.NoError(t, e.Reconcile(context.Background()))

	require.NotNil(t, e.pos)
	assert.Equal(t, "BTC-USDT-SWAP", e.pos.InstID)
	assert.Equal(t, StatusInTrade, e.status())
	assert.Empty(t, trading.closes)
	require.NotNil(t, e.holdTimer)
}

func TestReconcileResumeClosesExtraPositions(t *testing.T) {
	trading := &fakeTrading{positions: []domain.ExchangePosition{
		livePosition(),
		{InstID: "SOL-USDT-SWAP", PosSide: "long", Size: 10, MarginMode: domain.MarginIsolated},
	}}
	e := newTestExecutor(t, trading, &fakeRisk{maxLoss: 100})
	require.NoError(t, e.store.SaveTrade(savedPosition()))

	require.NoError(t, e.Reconcile(context.Background()))

	// The matched position is resumed, the extra one closed.
	require.NotNil(t, e.pos)
	assert.Equal(t, "BTC-USDT-SWAP", e.pos.InstID)
	assert.Equal(t, []string{"SOL-USDT-SWAP/long"}, trading.closes)
}

func TestReconcileSideMismatchClearsState(t *testing.T) {
	// Same instrument but opposite side: not our position.
	live := livePosition()
	live.PosSide = "short"
	trading := &fakeTrading{positions: []domain.ExchangePosition{live}}
	e := newTestExecutor(t, trading, &fakeRisk{maxLoss: 100})
	require.NoError(t, e.store.SaveTrade(savedPosition()))

	require.NoError(t, e.Reconcile(context.Background()))

	assert.Nil(t, e.pos)
	assert.Nil(t, e.store.LoadTrade())
	// The mismatched live position was closed as unexpected exposure.
	assert.Equal(t, []string{"BTC-USDT-SWAP/short"}, trading.closes)
}

func TestReconcileOverdueResumeClosesPromptly(t *testing.T) {
	trading := &fakeTrading{positions: []domain.ExchangePosition{livePosition()}}
	e := newTestExecutor(t, trading, &fakeRisk{maxLoss: 100})

	// Opened well past the 30 minute hold limit.
	pos := savedPosition()
	pos.OpenedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, e.store.SaveTrade(pos))

	require.NoError(t, e.Reconcile(context.Background()))
	require.NotNil(t, e.pos)

	// The remaining hold clamps to zero, so the expiry lands immediately.
	select {
	case epoch := <-e.expiries:
		assert.Equal(t, e.epoch, epoch)
	case <-time.After(time.Second):
		t.Fatal("overdue position never scheduled an expiry")
	}
}

func TestReconcileListFailurePropagates(t *testing.T) {
	trading := &fakeTrading{listErr: errors.New("exchange timeout")}
	e := newTestExecutor(t, trading, &fakeRisk{maxLoss: 100})

	err := e.Reconcile(context.Background())
	require.Error(t, err)
	assert.Nil(t, e.pos)
}
