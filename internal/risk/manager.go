// Package risk tracks realized P&L over rolling daily, weekly, and monthly
// windows, enforces loss-limit and consecutive-loss circuit breakers, and
// persists its state after every recorded trade so a restart never resets a
// tripped breaker.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jlindqvist/scalpd/internal/domain"
	"github.com/jlindqvist/scalpd/internal/state"
)

// Params holds the risk budget and cooldown configuration.
type Params struct {
	RiskPerTrade         float64
	InitialBalance       float64
	MaxDailyLoss         float64
	MaxWeeklyLoss        float64
	MaxMonthlyLoss       float64
	MaxConsecutiveLosses int
	CooldownAfterLoss    time.Duration
	ConsecutiveLossPause time.Duration
}

// Alerter delivers operator notifications for breaker events.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Manager is a single-goroutine actor owning the circuit-breaker state. All
// operations go through its request channel and are answered in its own turn.
type Manager struct {
	params  Params
	store   *state.Store
	account domain.AccountClient // optional; nil falls back to computed balance

	bus    domain.EventPublisher // optional
	alerts Alerter               // optional

	requests chan request

	st domain.RiskState

	now func() time.Time

	logger *slog.Logger
}

type requestKind int

const (
	reqCanTrade requestKind = iota
	reqRecordTrade
	reqReset
	reqStatus
	reqBalance
)

type request struct {
	kind  requestKind
	pnl   float64
	reply chan reply
}

type reply struct {
	maxLoss float64
	balance float64
	status  domain.RiskState
	err     error
}

// NewManager creates a Manager, restoring persisted state when present so a
// tripped breaker survives restarts. With no prior state it starts fresh
// from the configured initial balance.
func NewManager(params Params, store *state.Store, account domain.AccountClient, logger *slog.Logger) *Manager {
	m := &Manager{
		params:   params,
		store:    store,
		account:  account,
		requests: make(chan request),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "risk_manager")),
	}

	if prev := store.LoadRisk(); prev != nil {
		m.st = *prev
		m.logger.Info("risk state restored",
			slog.String("status", string(m.st.Status)),
			slog.Float64("daily_pnl", m.st.Daily.RealizedPnL),
			slog.Int("daily_trades", m.st.Daily.TradeCount),
		)
	} else {
		now := m.now()
		m.st = domain.RiskState{
			Status:  domain.RiskActive,
			Daily:   freshPeriod(periodDaily, now, params.InitialBalance),
			Weekly:  freshPeriod(periodWeekly, now, params.InitialBalance),
			Monthly: freshPeriod(periodMonthly, now, params.InitialBalance),
		}
		m.logger.Info("risk state initialized",
			slog.Float64("starting_balance", params.InitialBalance),
		)
	}
	return m
}

// SetEventPublisher wires a bus for breaker events.
func (m *Manager) SetEventPublisher(b domain.EventPublisher) { m.bus = b }

// SetAlerter wires operator notifications.
func (m *Manager) SetAlerter(a Alerter) { m.alerts = a }

// Run serves requests until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("risk manager started")
	defer m.logger.Info("risk manager stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-m.requests:
			m.handle(ctx, req)
		}
	}
}

// CanTrade rolls any expired periods, clears elapsed pauses, and checks every
// circuit breaker in order. On success it returns the maximum dollar loss
// permitted for the next trade; on failure the error names the tripped
// breaker and the manager is left stopped.
func (m *Manager) CanTrade(ctx context.Context) (float64, error) {
	r, err := m.ask(ctx, request{kind: reqCanTrade})
	if err != nil {
		return 0, err
	}
	return r.maxLoss, r.err
}

// RecordTrade applies a realized P&L to all three periods, updates streak
// counters, applies cooldowns, and persists the result.
func (m *Manager) RecordTrade(ctx context.Context, pnl float64) error {
	r, err := m.ask(ctx, request{kind: reqRecordTrade, pnl: pnl})
	if err != nil {
		return err
	}
	return r.err
}

// Reset clears all three periods to the current balance and removes any
// pause. This is an explicit operator action and is logged as such.
func (m *Manager) Reset(ctx context.Context) error {
	r, err := m.ask(ctx, request{kind: reqReset})
	if err != nil {
		return err
	}
	return r.err
}

// Status returns a copy of the current risk state.
func (m *Manager) Status(ctx context.Context) (domain.RiskState, error) {
	r, err := m.ask(ctx, request{kind: reqStatus})
	if err != nil {
		return domain.RiskState{}, err
	}
	return r.status, nil
}

// Balance returns the current balance estimate: the daily starting balance
// plus realized P&L since the daily roll.
func (m *Manager) Balance(ctx context.Context) (float64, error) {
	r, err := m.ask(ctx, request{kind: reqBalance})
	if err != nil {
		return 0, err
	}
	return r.balance, nil
}

func (m *Manager) ask(ctx context.Context, req request) (reply, error) {
	req.reply = make(chan reply, 1)
	select {
	case m.requests <- req:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (m *Manager) handle(ctx context.Context, req request) {
	switch req.kind {
	case reqCanTrade:
		maxLoss, err := m.canTrade(ctx)
		req.reply <- reply{maxLoss: maxLoss, err: err}
	case reqRecordTrade:
		req.reply <- reply{err: m.recordTrade(req.pnl)}
	case reqReset:
		req.reply <- reply{err: m.reset(ctx)}
	case reqStatus:
		req.reply <- reply{status: m.st}
	case reqBalance:
		req.reply <- reply{balance: m.currentBalance()}
	}
}

// currentBalance is the freshest balance estimate without touching the
// exchange.
func (m *Manager) currentBalance() float64 {
	return m.st.Daily.StartingBalance + m.st.Daily.RealizedPnL
}

// liveBalance prefers the exchange's equity when an account client is wired,
// falling back to the computed estimate.
func (m *Manager) liveBalance(ctx context.Context) float64 {
	computed := m.currentBalance()
	if m.account == nil {
		return computed
	}
	eq, err := m.account.Equity(ctx)
	if err != nil || eq <= 0 {
		if err != nil {
			m.logger.Warn("equity fetch failed, using computed balance",
				slog.String("error", err.Error()),
			)
		}
		return computed
	}
	return eq
}

// rollPeriods resets every period whose boundary has passed. A roll clears
// any pause attributable to the rolled window.
func (m *Manager) rollPeriods(ctx context.Context) {
	now := m.now()
	rolled := false

	type target struct {
		p    *domain.PeriodState
		kind periodKind
	}
	for _, t := range []target{
		{&m.st.Daily, periodDaily},
		{&m.st.Weekly, periodWeekly},
		{&m.st.Monthly, periodMonthly},
	} {
		if !needsRoll(*t.p, t.kind, now) {
			continue
		}
		balance := m.liveBalance(ctx)
		m.logger.Info("period rolled",
			slog.String("period", t.kind.String()),
			slog.Float64("closed_pnl", t.p.RealizedPnL),
			slog.Float64("new_starting_balance", balance),
		)
		*t.p = freshPeriod(t.kind, now, balance)
		rolled = true
	}

	if rolled {
		m.clearPause()
		if err := m.store.SaveRisk(m.st); err != nil {
			m.logger.Error("persist after period roll failed", slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) clearPause() {
	m.st.PausedUntil = nil
	m.st.PauseReason = ""
	if m.st.Status == domain.RiskPaused {
		m.st.Status = domain.RiskActive
	}
}

// canTrade implements the ordered breaker checks from the strategy: daily,
// weekly, monthly loss limits, then the consecutive-loss streak, then any
// active pause. The first failure wins.
func (m *Manager) canTrade(ctx context.Context) (float64, error) {
	m.rollPeriods(ctx)

	now := m.now()
	if m.st.PausedUntil != nil && !now.Before(*m.st.PausedUntil) {
		m.clearPause()
	}

	type check struct {
		p    domain.PeriodState
		kind periodKind
		lim  float64
	}
	for _, c := range []check{
		{m.st.Daily, periodDaily, m.params.MaxDailyLoss},
		{m.st.Weekly, periodWeekly, m.params.MaxWeeklyLoss},
		{m.st.Monthly, periodMonthly, m.params.MaxMonthlyLoss},
	} {
		if c.p.LossFraction() >= c.lim {
			err := fmt.Errorf("%s_limit_reached: lost %.2f of %.2f starting balance (%w)",
				c.kind, -c.p.RealizedPnL, c.p.StartingBalance, domain.ErrTradingHalted)
			m.trip(ctx, err)
			return 0, err
		}
	}

	if m.st.Daily.ConsecutiveLosses >= m.params.MaxConsecutiveLosses {
		err := fmt.Errorf("consecutive_losses: %d in a row, limit %d (%w)",
			m.st.Daily.ConsecutiveLosses, m.params.MaxConsecutiveLosses, domain.ErrTradingHalted)
		m.trip(ctx, err)
		return 0, err
	}

	if m.st.PausedUntil != nil && now.Before(*m.st.PausedUntil) {
		err := fmt.Errorf("paused: %s until %s (%w)",
			m.st.PauseReason, m.st.PausedUntil.Format(time.RFC3339), domain.ErrTradingHalted)
		m.trip(ctx, err)
		return 0, err
	}

	m.st.Status = domain.RiskActive
	return m.st.Daily.StartingBalance * m.params.RiskPerTrade, nil
}

// trip stops trading. Only the first transition into the stopped state
// publishes the breaker event and alerts the operator; repeated rejections of
// the same halt stay quiet.
func (m *Manager) trip(ctx context.Context, cause error) {
	if m.st.Status == domain.RiskStopped {
		return
	}
	m.st.Status = domain.RiskStopped
	m.publishBreaker(ctx, cause.Error())
	m.notify(ctx, "breaker_tripped", "Circuit breaker tripped", cause.Error())
}

func (m *Manager) publishBreaker(ctx context.Context, reason string) {
	if m.bus == nil {
		return
	}
	body, err := json.Marshal(struct {
		Event  string           `json:"event"`
		Reason string           `json:"reason"`
		State  domain.RiskState `json:"state"`
	}{"breaker_tripped", reason, m.st})
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.ChannelRisk, body); err != nil {
		m.logger.Debug("breaker publish failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) notify(ctx context.Context, event, title, message string) {
	if m.alerts == nil {
		return
	}
	if err := m.alerts.Notify(ctx, event, title, message); err != nil {
		m.logger.Debug("notify failed", slog.String("error", err.Error()))
	}
}

// recordTrade books the realized P&L into all three periods, then applies
// the loss cooldowns, then persists.
func (m *Manager) recordTrade(pnl float64) error {
	now := m.now()

	for _, p := range []*domain.PeriodState{&m.st.Daily, &m.st.Weekly, &m.st.Monthly} {
		p.RealizedPnL += pnl
		p.TradeCount++
		if pnl >= 0 {
			p.WinCount++
			p.ConsecutiveLosses = 0
		} else {
			p.LossCount++
			p.ConsecutiveLosses++
		}
	}

	switch {
	case m.st.Daily.ConsecutiveLosses >= m.params.MaxConsecutiveLosses:
		until := now.Add(m.params.ConsecutiveLossPause)
		m.st.PausedUntil = &until
		m.st.PauseReason = "consecutive_losses_cooldown"
		m.st.Status = domain.RiskPaused
		m.logger.Warn("consecutive-loss cooldown engaged",
			slog.Int("losses", m.st.Daily.ConsecutiveLosses),
			slog.Time("until", until),
		)
	case pnl < 0:
		until := now.Add(m.params.CooldownAfterLoss)
		m.st.PausedUntil = &until
		m.st.PauseReason = "loss_cooldown"
		m.st.Status = domain.RiskPaused
	}

	m.logger.Info("trade recorded",
		slog.Float64("pnl", pnl),
		slog.Float64("daily_pnl", m.st.Daily.RealizedPnL),
		slog.Int("daily_trades", m.st.Daily.TradeCount),
		slog.Int("consecutive_losses", m.st.Daily.ConsecutiveLosses),
	)

	if err := m.store.SaveRisk(m.st); err != nil {
		return fmt.Errorf("risk: persist state: %w", err)
	}
	return nil
}

// reset is the operator escape hatch: every period restarts at the current
// balance and any pause is lifted.
func (m *Manager) reset(ctx context.Context) error {
	now := m.now()
	balance := m.liveBalance(ctx)

	m.st.Daily = freshPeriod(periodDaily, now, balance)
	m.st.Weekly = freshPeriod(periodWeekly, now, balance)
	m.st.Monthly = freshPeriod(periodMonthly, now, balance)
	m.st.PausedUntil = nil
	m.st.PauseReason = ""
	m.st.Status = domain.RiskActive

	m.logger.Warn("risk state reset by operator",
		slog.Float64("balance", balance),
	)

	if err := m.store.SaveRisk(m.st); err != nil {
		return fmt.Errorf("risk: persist state: %w", err)
	}
	return nil
}
