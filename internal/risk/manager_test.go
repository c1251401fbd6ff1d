package risk

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlindqvist/scalpd/internal/domain"
	"github.com/jlindqvist/scalpd/internal/state"
)

func testRiskParams() Params {
	return Params{
		RiskPerTrade:         0.01,
		InitialBalance:       10_000,
		MaxDailyLoss:         0.03,
		MaxWeeklyLoss:        0.07,
		MaxMonthlyLoss:       0.15,
		MaxConsecutiveLosses: 3,
		CooldownAfterLoss:    5 * time.Minute,
		ConsecutiveLossPause: time.Hour,
	}
}

func testStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.New(t.TempDir(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	return s
}

func newTestManager(t *testing.T, store *state.Store) *Manager {
	t.Helper()
	return NewManager(testRiskParams(), store, nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestCanTradeFresh(t *testing.T) {
	m := newTestManager(t, testStore(t))

	maxLoss, err := m.canTrade(context.Background())
	require.NoError(t, err)
	// 10000 * 0.01 = 100 dollars of risk per trade.
	assert.Equal(t, 100.0, maxLoss)
	assert.Equal(t, domain.RiskActive, m.st.Status)
}

func TestDailyLossLimitTrips(t *testing.T) {
	m := newTestManager(t, testStore(t))

	require.NoError(t, m.recordTrade(-150))
	require.NoError(t, m.recordTrade(-160))

	// -310 on a 10000 start is 3.1%, past the 3% daily budget.
	_, err := m.canTrade(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTradingHalted)
	assert.Contains(t, err.Error(), "daily_limit_reached")
	assert.Equal(t, domain.RiskStopped, m.st.Status)
}

func TestConsecutiveLossBreaker(t *testing.T) {
	m := newTestManager(t, testStore(t))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.recordTrade(-10))
	}
	assert.Equal(t, 3, m.st.Daily.ConsecutiveLosses)
	assert.Equal(t, "consecutive_losses_cooldown", m.st.PauseReason)
	assert.Equal(t, domain.RiskPaused, m.st.Status)

	// Losses are tiny, so the streak breaker fires before any loss limit.
	_, err := m.canTrade(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTradingHalted)
	assert.Contains(t, err.Error(), "consecutive_losses")
}

func TestWinResetsStreak(t *testing.T) {
	m := newTestManager(t, testStore(t))

	require.NoError(t, m.recordTrade(-10))
	require.NoError(t, m.recordTrade(-10))
	assert.Equal(t, 2, m.st.Daily.ConsecutiveLosses)

	require.NoError(t, m.recordTrade(25))
	assert.Equal(t, 0, m.st.Daily.ConsecutiveLosses)
	assert.Equal(t, 1, m.st.Daily.WinCount)
	assert.Equal(t, 2, m.st.Daily.LossCount)
	assert.Equal(t, 3, m.st.Daily.TradeCount)
	assert.Equal(t, 5.0, m.st.Daily.RealizedPnL)
}

func TestLossCooldownBlocksThenExpires(t *testing.T) {
	store := testStore(t)
	params := testRiskParams()
	params.CooldownAfterLoss = 10 * time.Millisecond
	m := NewManager(params, store, nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	require.NoError(t, m.recordTrade(-10))
	assert.Equal(t, "loss_cooldown", m.st.PauseReason)

	_, err := m.canTrade(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTradingHalted)
	assert.Contains(t, err.Error(), "paused: loss_cooldown")

	time.Sleep(20 * time.Millisecond)

	maxLoss, err := m.canTrade(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, maxLoss)
	assert.Equal(t, domain.RiskActive, m.st.Status)
	assert.Nil(t, m.st.PausedUntil)
}

func TestStateSurvivesRestart(t *testing.T) {
	store := testStore(t)

	m1 := newTestManager(t, store)
	require.NoError(t, m1.recordTrade(-75))

	m2 := newTestManager(t, store)
	assert.Equal(t, -75.0, m2.st.Daily.RealizedPnL)
	assert.Equal(t, 1, m2.st.Daily.TradeCount)
	assert.Equal(t, -75.0, m2.st.Weekly.RealizedPnL)
	assert.Equal(t, -75.0, m2.st.Monthly.RealizedPnL)
	// The loss cooldown is persisted too.
	assert.Equal(t, "loss_cooldown", m2.st.PauseReason)
}

func TestTrippedBreakerSurvivesRestart(t *testing.T) {
	store := testStore(t)

	m1 := newTestManager(t, store)
	require.NoError(t, m1.recordTrade(-310))
	_, err := m1.canTrade(context.Background())
	require.Error(t, err)

	m2 := newTestManager(t, store)
	_, err = m2.canTrade(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily_limit_reached")
}

func TestResetClearsEverything(t *testing.T) {
	store := testStore(t)
	m := newTestManager(t, store)

	require.NoError(t, m.recordTrade(-310))
	_, err := m.canTrade(context.Background())
	require.Error(t, err)

	require.NoError(t, m.reset(context.Background()))

	maxLoss, err := m.canTrade(context.Background())
	require.NoError(t, err)
	// Periods restart at the drawn-down balance: 9690 * 0.01 = 96.90.
	assert.InDelta(t, 96.90, maxLoss, 1e-9)
	assert.Equal(t, domain.RiskActive, m.st.Status)
	assert.Equal(t, 0, m.st.Daily.TradeCount)
	assert.Equal(t, 0.0, m.st.Daily.RealizedPnL)

	// A second reset is a no-op on an already-clean state.
	require.NoError(t, m.reset(context.Background()))
	assert.Equal(t, domain.RiskActive, m.st.Status)
	assert.Equal(t, 0.0, m.st.Daily.RealizedPnL)
	maxLoss, err = m.canTrade(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 96.90, maxLoss, 1e-9)

	// The reset is persisted.
	m2 := newTestManager(t, store)
	maxLoss, err = m2.canTrade(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 96.90, maxLoss, 1e-9)
}

func TestDailyRollCarriesBalanceForward(t *testing.T) {
	store := testStore(t)

	// Seed persisted state dated Tuesday 2026-03-03 with a 75 dollar loss.
	require.NoError(t, store.SaveRisk(domain.RiskState{
		Status:  domain.RiskActive,
		Daily:   domain.PeriodState{StartDate: "2026-03-03", StartingBalance: 10_000, RealizedPnL: -75, TradeCount: 1, LossCount: 1},
		Weekly:  domain.PeriodState{StartDate: "2026-03-02", StartingBalance: 10_000, RealizedPnL: -75, TradeCount: 1, LossCount: 1},
		Monthly: domain.PeriodState{StartDate: "2026-03-01", StartingBalance: 10_000, RealizedPnL: -75, TradeCount: 1, LossCount: 1},
	}))

	m := newTestManager(t, store)
	clock := time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	// Same day: nothing rolls.
	maxLoss, err := m.canTrade(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, maxLoss)
	assert.Equal(t, -75.0, m.st.Daily.RealizedPnL)

	// Wednesday: the daily window rolls onto the drawn-down balance, the
	// weekly and monthly windows keep accumulating.
	clock = time.Date(2026, 3, 4, 0, 5, 0, 0, time.UTC)
	maxLoss, err = m.canTrade(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 99.25, maxLoss, 1e-9) // 9925 * 0.01
	assert.Equal(t, 0.0, m.st.Daily.RealizedPnL)
	assert.Equal(t, "2026-03-04", m.st.Daily.StartDate)
	assert.Equal(t, -75.0, m.st.Weekly.RealizedPnL)
	assert.Equal(t, -75.0, m.st.Monthly.RealizedPnL)
}

func TestRollClearsPause(t *testing.T) {
	store := testStore(t)
	until := time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRisk(domain.RiskState{
		Status:      domain.RiskPaused,
		PausedUntil: &until,
		PauseReason: "loss_cooldown",
		Daily:       domain.PeriodState{StartDate: "2026-03-03", StartingBalance: 10_000, RealizedPnL: -50},
		Weekly:      domain.PeriodState{StartDate: "2026-03-02", StartingBalance: 10_000, RealizedPnL: -50},
		Monthly:     domain.PeriodState{StartDate: "2026-03-01", StartingBalance: 10_000, RealizedPnL: -50},
	}))

	m := newTestManager(t, store)
	m.now = func() time.Time { return time.Date(2026, 3, 4, 0, 5, 0, 0, time.UTC) }

	// A new day lifts the cooldown even though its deadline is still ahead.
	_, err := m.canTrade(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m.st.PausedUntil)
	assert.Equal(t, domain.RiskActive, m.st.Status)
}

// stubAccount returns a fixed equity.
type stubAccount struct {
	equity float64
	err    error
}

func (s *stubAccount) Equity(context.Context) (float64, error) { return s.equity, s.err }

func TestRollPrefersExchangeEquity(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.SaveRisk(domain.RiskState{
		Status:  domain.RiskActive,
		Daily:   domain.PeriodState{StartDate: "2026-03-03", StartingBalance: 10_000, RealizedPnL: -75},
		Weekly:  domain.PeriodState{StartDate: "2026-03-02", StartingBalance: 10_000},
		Monthly: domain.PeriodState{StartDate: "2026-03-01", StartingBalance: 10_000},
	}))

	m := NewManager(testRiskParams(), store, &stubAccount{equity: 10_500},
		slog.New(slog.NewTextHandler(os.Stderr, nil)))
	m.now = func() time.Time { return time.Date(2026, 3, 4, 0, 5, 0, 0, time.UTC) }

	maxLoss, err := m.canTrade(context.Background())
	require.NoError(t, err)
	// The exchange's equity wins over the computed 9925.
	assert.Equal(t, 105.0, maxLoss)
}

// stubBus records published channels and payloads.
type stubBus struct {
	channels []string
	payloads []string
}

func (s *stubBus) Publish(_ context.Context, channel string, payload []byte) error {
	s.channels = append(s.channels, channel)
	s.payloads = append(s.payloads, string(payload))
	return nil
}

// stubAlerter records notified events.
type stubAlerter struct {
	events []string
}

func (s *stubAlerter) Notify(_ context.Context, event, _, _ string) error {
	s.events = append(s.events, event)
	return nil
}

func TestBreakerTripPublishesAndAlertsOnce(t *testing.T) {
	m := newTestManager(t, testStore(t))
	bus := &stubBus{}
	alerts := &stubAlerter{}
	m.SetEventPublisher(bus)
	m.SetAlerter(alerts)

	require.NoError(t, m.recordTrade(-150))
	require.NoError(t, m.recordTrade(-160))

	_, err := m.canTrade(context.Background())
	require.Error(t, err)

	require.Len(t, bus.channels, 1)
	assert.Equal(t, domain.ChannelRisk, bus.channels[0])
	assert.Contains(t, bus.payloads[0], `"event":"breaker_tripped"`)
	assert.Contains(t, bus.payloads[0], "daily_limit_reached")
	assert.Equal(t, []string{"breaker_tripped"}, alerts.events)

	// Repeated rejections of the same halt stay quiet.
	_, err = m.canTrade(context.Background())
	require.Error(t, err)
	assert.Len(t, bus.channels, 1)
	assert.Len(t, alerts.events, 1)
}

func TestActorInterface(t *testing.T) {
	m := newTestManager(t, testStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	maxLoss, err := m.CanTrade(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, maxLoss)

	require.NoError(t, m.RecordTrade(ctx, 42))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42.0, st.Daily.RealizedPnL)

	balance, err := m.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10_042.0, balance)
}
