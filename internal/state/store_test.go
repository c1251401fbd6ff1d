package state

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlindqvist/scalpd/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	return s
}

func TestLoadWithoutPriorState(t *testing.T) {
	s := newTestStore(t)
	assert.Nil(t, s.LoadRisk())
	assert.Nil(t, s.LoadTrade())
}

func TestRiskRoundTrip(t *testing.T) {
	s := newTestStore(t)

	until := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := domain.RiskState{
		Status:      domain.RiskPaused,
		PausedUntil: &until,
		PauseReason: "loss_cooldown",
		Daily: domain.PeriodState{
			StartDate:         "2026-03-01",
			StartingBalance:   10_000,
			RealizedPnL:       -75,
			TradeCount:        1,
			LossCount:         1,
			ConsecutiveLosses: 1,
		},
		Weekly:  domain.PeriodState{StartDate: "2026-02-23", StartingBalance: 10_000, RealizedPnL: -75, TradeCount: 1, LossCount: 1},
		Monthly: domain.PeriodState{StartDate: "2026-03-01", StartingBalance: 10_000, RealizedPnL: -75, TradeCount: 1, LossCount: 1},
	}
	require.NoError(t, s.SaveRisk(in))

	out := s.LoadRisk()
	require.NotNil(t, out)
	assert.Equal(t, SchemaVersion, out.Version)
	assert.Equal(t, domain.RiskPaused, out.Status)
	require.NotNil(t, out.PausedUntil)
	assert.True(t, out.PausedUntil.Equal(until))
	assert.Equal(t, "loss_cooldown", out.PauseReason)
	assert.Equal(t, -75.0, out.Daily.RealizedPnL)
	assert.Equal(t, 1, out.Daily.TradeCount)
	assert.Equal(t, 1, out.Daily.ConsecutiveLosses)
	assert.False(t, out.SavedAt.IsZero())
}

func TestTradeRoundTripAndClear(t *testing.T) {
	s := newTestStore(t)

	in := domain.Position{
		InstID:      "BTC-USDT-SWAP",
		Direction:   domain.DirectionLong,
		Side:        "long",
		Size:        3,
		EntryPrice:  65_000,
		OrderID:     "ord-1",
		StopOrderID: "algo-1",
		TPOrderID:   "algo-1",
		SignalScore: 72.5,
		OpenedAt:    time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveTrade(in))

	out := s.LoadTrade()
	require.NotNil(t, out)
	assert.Equal(t, "BTC-USDT-SWAP", out.InstID)
	assert.Equal(t, domain.DirectionLong, out.Direction)
	assert.Equal(t, 3.0, out.Size)
	assert.Equal(t, 65_000.0, out.EntryPrice)
	assert.Equal(t, "algo-1", out.StopOrderID)

	require.NoError(t, s.ClearTrade())
	assert.Nil(t, s.LoadTrade())

	// Clearing twice is not an error.
	require.NoError(t, s.ClearTrade())
}

func TestCorruptFileTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "risk_state.json"), []byte("{truncated"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trade_state.json"), []byte("not json at all"), 0o644))

	assert.Nil(t, s.LoadRisk())
	assert.Nil(t, s.LoadTrade())
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)

	require.NoError(t, s.SaveTrade(domain.Position{InstID: "ETH-USDT-SWAP", Size: 1}))
	require.NoError(t, s.SaveTrade(domain.Position{InstID: "ETH-USDT-SWAP", Size: 2}))

	out := s.LoadTrade()
	require.NotNil(t, out)
	assert.Equal(t, 2.0, out.Size)

	// No temp files survive a completed write.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
