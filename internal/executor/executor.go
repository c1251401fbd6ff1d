// Package executor manages the engine's single open position. It is the only
// component that touches the exchange's trading endpoints: it consumes ranked
// opportunities, consults the risk manager, sizes and places orders, attaches
// a combined take-profit/stop-loss, enforces a maximum hold time, and persists
// its state after every change so a crash never loses track of live exposure.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jlindqvist/scalpd/internal/domain"
	"github.com/jlindqvist/scalpd/internal/sched"
	"github.com/jlindqvist/scalpd/internal/state"
)

// Status is the executor's trading state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusInTrade Status = "in_trade"
)

// Params holds the position-management configuration.
type Params struct {
	Leverage      float64
	MarginMode    domain.MarginMode
	StopLossPct   float64
	TakeProfitPct float64
	MaxHoldTime   time.Duration
}

// RiskGate is the subset of the risk manager the executor depends on.
type RiskGate interface {
	CanTrade(ctx context.Context) (maxLoss float64, err error)
	RecordTrade(ctx context.Context, pnl float64) error
}

// PriceSource supplies a current book so closes can estimate an exit price.
type PriceSource interface {
	Book(ctx context.Context, instID string) (domain.BookState, error)
}

// Alerter delivers operator notifications for trade lifecycle events.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Executor is a single-goroutine actor. Opportunities, queries, and hold-timer
// expiries all arrive through its inbox; exchange calls are made synchronously
// in its own turn, which is acceptable because every other component is an
// independent actor.
type Executor struct {
	params  Params
	trading domain.TradingClient
	risk    RiskGate
	store   *state.Store

	prices  PriceSource         // optional, nil means exit price falls back to entry
	journal domain.TradeJournal // optional
	bus     domain.EventPublisher
	alerts  Alerter

	requests chan request
	expiries chan int

	pos       *domain.Position
	epoch     int // bumped on every open/close so stale timers are ignored
	holdTimer *sched.Timer

	now func() time.Time

	logger *slog.Logger
}

type requestKind int

const (
	reqPosition requestKind = iota
	reqStatus
	reqEmergencyClose
)

type request struct {
	kind  requestKind
	reply chan reply
}

type reply struct {
	pos    *domain.Position
	status Status
	err    error
}

// New creates an Executor. trading, risk, and store are required; prices,
// journal, bus, and alerts may be nil and are then skipped.
func New(params Params, trading domain.TradingClient, risk RiskGate, store *state.Store, logger *slog.Logger) *Executor {
	return &Executor{
		params:   params,
		trading:  trading,
		risk:     risk,
		store:    store,
		requests: make(chan request),
		expiries: make(chan int, 4),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// SetPriceSource wires a book source used to estimate exit prices on close.
func (e *Executor) SetPriceSource(p PriceSource) { e.prices = p }

// SetJournal wires a closed-trade journal.
func (e *Executor) SetJournal(j domain.TradeJournal) { e.journal = j }

// SetEventPublisher wires a bus for trade lifecycle events.
func (e *Executor) SetEventPublisher(b domain.EventPublisher) { e.bus = b }

// SetAlerter wires operator notifications.
func (e *Executor) SetAlerter(a Alerter) { e.alerts = a }

// Position returns the open position, or ErrNoPosition while idle.
func (e *Executor) Position(ctx context.Context) (domain.Position, error) {
	r, err := e.ask(ctx, request{kind: reqPosition})
	if err != nil {
		return domain.Position{}, err
	}
	if r.pos == nil {
		return domain.Position{}, domain.ErrNoPosition
	}
	return *r.pos, nil
}

// Status reports whether the executor is idle or managing a trade.
func (e *Executor) Status(ctx context.Context) (Status, error) {
	r, err := e.ask(ctx, request{kind: reqStatus})
	if err != nil {
		return "", err
	}
	return r.status, nil
}

// EmergencyClose force-closes the open position immediately.
func (e *Executor) EmergencyClose(ctx context.Context) error {
	r, err := e.ask(ctx, request{kind: reqEmergencyClose})
	if err != nil {
		return err
	}
	return r.err
}

func (e *Executor) ask(ctx context.Context, req request) (reply, error) {
	req.reply = make(chan reply, 1)
	select {
	case e.requests <- req:
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

// Run reconciles persisted state against the exchange, then serves
// opportunities and requests until ctx is cancelled. On shutdown an open
// position is persisted one last time before returning.
func (e *Executor) Run(ctx context.Context, opportunities <-chan domain.InstrumentScore) error {
	if err := e.Reconcile(ctx); err != nil {
		return fmt.Errorf("executor: reconcile: %w", err)
	}

	e.logger.Info("executor started", slog.String("status", string(e.status())))
	defer e.logger.Info("executor stopped")

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()

		case score, ok := <-opportunities:
			if !ok {
				e.shutdown()
				return nil
			}
			e.onOpportunity(ctx, score)

		case epoch := <-e.expiries:
			e.onHoldExpired(ctx, epoch)

		case req := <-e.requests:
			e.handle(ctx, req)
		}
	}
}

func (e *Executor) handle(ctx context.Context, req request) {
	switch req.kind {
	case reqPosition:
		var cp *domain.Position
		if e.pos != nil {
			c := *e.pos
			cp = &c
		}
		req.reply <- reply{pos: cp}
	case reqStatus:
		req.reply <- reply{status: e.status()}
	case reqEmergencyClose:
		req.reply <- reply{err: e.closePosition(ctx, domain.CloseReasonEmergency)}
	}
}

func (e *Executor) status() Status {
	if e.pos != nil {
		return StatusInTrade
	}
	return StatusIdle
}

// onOpportunity opens a position for the pushed opportunity when idle and the
// risk manager permits. While in a trade, opportunities are ignored.
func (e *Executor) onOpportunity(ctx context.Context, score domain.InstrumentScore) {
	if e.pos != nil {
		e.logger.Debug("opportunity ignored, position open",
			slog.String("inst_id", score.InstID),
			slog.String("open_inst_id", e.pos.InstID),
		)
		return
	}
	if score.Signal == nil {
		return
	}
	sig := *score.Signal

	log := e.logger.With(
		slog.String("inst_id", sig.InstID),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("score", sig.Score),
	)

	maxLoss, err := e.risk.CanTrade(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrTradingHalted) {
			log.Info("trading halted, opportunity skipped", slog.String("reason", err.Error()))
		} else {
			log.Error("risk check failed", slog.String("error", err.Error()))
		}
		return
	}

	size := sizeContracts(maxLoss, e.params.StopLossPct, sig.Entry)

	side := domain.TradeSideBuy
	posSide := "long"
	if sig.Direction == domain.DirectionShort {
		side = domain.TradeSideSell
		posSide = "short"
	}

	orderID, err := e.trading.PlaceMarketOrder(ctx, domain.MarketOrderRequest{
		InstID:     sig.InstID,
		Side:       side,
		PosSide:    posSide,
		Size:       size,
		MarginMode: e.params.MarginMode,
		ClientID:   uuid.New().String(),
	})
	if err != nil {
		var xe *domain.ExchangeError
		if errors.As(err, &xe) {
			log.Error("entry rejected",
				slog.String("code", xe.Code),
				slog.String("message", xe.Message),
			)
		} else {
			log.Error("entry order failed", slog.String("error", err.Error()))
		}
		return
	}

	now := e.now()
	pos := &domain.Position{
		Version:     state.SchemaVersion,
		InstID:      sig.InstID,
		Direction:   sig.Direction,
		Side:        posSide,
		Size:        size,
		EntryPrice:  sig.Entry,
		OrderID:     orderID,
		SignalScore: sig.Score,
		OpenedAt:    now,
	}

	// A TP/SL failure leaves the position open and unprotected; this is
	// surfaced loudly and left for reconciliation or the operator.
	closeSide := domain.TradeSideSell
	if sig.Direction == domain.DirectionShort {
		closeSide = domain.TradeSideBuy
	}
	algoID, err := e.trading.PlaceTPSL(ctx, domain.TPSLRequest{
		InstID:     sig.InstID,
		Side:       closeSide,
		PosSide:    posSide,
		Size:       size,
		MarginMode: e.params.MarginMode,
		TPPrice:    sig.Target,
		SLPrice:    sig.Stop,
	})
	if err != nil {
		log.Error("tp/sl placement failed, position unprotected",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		e.notify(ctx, "error", "Position unprotected",
			fmt.Sprintf("%s %s: tp/sl placement failed: %v", sig.InstID, sig.Direction, err))
	} else {
		pos.StopOrderID = algoID
		pos.TPOrderID = algoID
	}

	e.pos = pos
	e.armHoldTimer()
	if err := e.store.SaveTrade(*pos); err != nil {
		log.Error("persist position failed", slog.String("error", err.Error()))
	}

	log.Info("position opened",
		slog.Float64("size", size),
		slog.Float64("entry", sig.Entry),
		slog.Float64("stop", sig.Stop),
		slog.Float64("target", sig.Target),
		slog.String("order_id", orderID),
	)
	e.publishEvent(ctx, "position_opened", pos)
	e.notify(ctx, "position_opened", "Position opened",
		fmt.Sprintf("%s %s %.4f @ %.4f (score %.1f)", sig.InstID, sig.Direction, size, sig.Entry, sig.Score))
}

// onHoldExpired force-closes the position when its max-hold timer fires. The
// epoch guard discards timers belonging to an already-closed position.
func (e *Executor) onHoldExpired(ctx context.Context, epoch int) {
	if e.pos == nil || epoch != e.epoch {
		return
	}
	e.logger.Warn("max hold time reached, closing position",
		slog.String("inst_id", e.pos.InstID),
		slog.Duration("max_hold", e.params.MaxHoldTime),
	)
	if err := e.closePosition(ctx, domain.CloseReasonMaxHold); err != nil {
		e.logger.Error("max-hold close failed", slog.String("error", err.Error()))
	}
}

// closePosition is the single close path: cancel the attached TP/SL, issue
// the close, record the realized result, clear persisted state, return to
// idle. If the close call itself fails the position is kept so the exposure
// is never forgotten.
func (e *Executor) closePosition(ctx context.Context, reason domain.CloseReason) error {
	if e.pos == nil {
		return domain.ErrNoPosition
	}
	pos := *e.pos

	e.cancelHoldTimer()

	if pos.StopOrderID != "" {
		if err := e.trading.CancelTPSL(ctx, pos.InstID, pos.StopOrderID); err != nil {
			e.logger.Warn("cancel tp/sl failed",
				slog.String("algo_id", pos.StopOrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := e.trading.ClosePosition(ctx, pos.InstID, e.params.MarginMode, pos.Side); err != nil {
		e.armHoldTimer() // keep managing the exposure
		return fmt.Errorf("executor: close position %s: %w", pos.InstID, err)
	}

	exit := e.exitPrice(ctx, pos)
	pnl := realizedPnL(pos, exit)

	if err := e.risk.RecordTrade(ctx, pnl); err != nil {
		e.logger.Error("record trade failed", slog.String("error", err.Error()))
	}

	closedAt := e.now()
	rec := domain.TradeRecord{
		ID:          uuid.New().String(),
		InstID:      pos.InstID,
		Direction:   pos.Direction,
		Size:        pos.Size,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit,
		PnL:         pnl,
		SignalScore: pos.SignalScore,
		CloseReason: reason,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    closedAt,
	}
	if e.journal != nil {
		if err := e.journal.Insert(ctx, rec); err != nil {
			e.logger.Warn("journal insert failed", slog.String("error", err.Error()))
		}
	}

	if err := e.store.ClearTrade(); err != nil {
		e.logger.Error("clear persisted position failed", slog.String("error", err.Error()))
	}
	e.pos = nil

	e.logger.Info("position closed",
		slog.String("inst_id", pos.InstID),
		slog.String("reason", string(reason)),
		slog.Float64("exit", exit),
		slog.Float64("pnl", pnl),
	)
	e.publishEvent(ctx, "position_closed", rec)
	e.notify(ctx, "position_closed", "Position closed",
		fmt.Sprintf("%s %s pnl %.2f (%s)", pos.InstID, pos.Direction, pnl, reason))
	return nil
}

// exitPrice estimates the close fill from the current book mid, falling back
// to the entry price when no book is available.
func (e *Executor) exitPrice(ctx context.Context, pos domain.Position) float64 {
	if e.prices == nil {
		return pos.EntryPrice
	}
	book, err := e.prices.Book(ctx, pos.InstID)
	if err != nil {
		return pos.EntryPrice
	}
	if mid := book.MidPrice(); mid > 0 {
		return mid
	}
	return pos.EntryPrice
}

func (e *Executor) armHoldTimer() {
	e.epoch++
	e.armHoldTimerFor(e.params.MaxHoldTime)
}

// armHoldTimerFor schedules a hold expiry for the current epoch without
// bumping it. Used on resume, where part of the hold has already elapsed.
func (e *Executor) armHoldTimerFor(d time.Duration) {
	epoch := e.epoch
	if d < 0 {
		d = 0
	}
	e.holdTimer = sched.After(d, func() {
		select {
		case e.expiries <- epoch:
		default:
		}
	})
}

func (e *Executor) cancelHoldTimer() {
	e.epoch++
	if e.holdTimer != nil {
		e.holdTimer.Stop()
		e.holdTimer = nil
	}
}

// shutdown persists the open position one final time before exit.
func (e *Executor) shutdown() {
	if e.holdTimer != nil {
		e.holdTimer.Stop()
	}
	if e.pos == nil {
		return
	}
	if err := e.store.SaveTrade(*e.pos); err != nil {
		e.logger.Error("final position persist failed", slog.String("error", err.Error()))
	} else {
		e.logger.Info("open position persisted for restart",
			slog.String("inst_id", e.pos.InstID),
		)
	}
}

// busEvent is the envelope published on the positions channel.
type busEvent struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
	Data  any       `json:"data"`
}

func (e *Executor) publishEvent(ctx context.Context, event string, payload any) {
	if e.bus == nil {
		return
	}
	body, err := json.Marshal(busEvent{Event: event, At: e.now(), Data: payload})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, domain.ChannelPositions, body); err != nil {
		e.logger.Debug("event publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) notify(ctx context.Context, event, title, message string) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Notify(ctx, event, title, message); err != nil {
		e.logger.Debug("notify failed", slog.String("error", err.Error()))
	}
}

// sizeContracts converts the permitted dollar loss into a contract count:
// losing the full stop distance on the position costs at most maxLoss.
// Always at least one contract.
func sizeContracts(maxLoss, stopLossPct, entry float64) float64 {
	if stopLossPct <= 0 || entry <= 0 {
		return 1
	}
	size := math.Round(maxLoss / stopLossPct / entry)
	if size < 1 {
		return 1
	}
	return size
}

func realizedPnL(pos domain.Position, exit float64) float64 {
	if pos.Direction == domain.DirectionShort {
		return (pos.EntryPrice - exit) * pos.Size
	}
	return (exit - pos.EntryPrice) * pos.Size
}
