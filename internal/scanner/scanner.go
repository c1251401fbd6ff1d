// Package scanner ranks the watchlist on a fixed interval by combining each
// instrument's wall signal with spread and volume filters, and pushes the top
// qualifying opportunity to subscribers.
package scanner

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jlindqvist/scalpd/internal/domain"
)

const (
	tickerInboxSize = 256
	subscriberSize  = 16

	// spreadBonusCap and volumeBonusCap are the small additive bonuses for a
	// tight spread and deep 24h volume, on top of the wall signal score.
	spreadBonusCap = 5.0
	volumeBonusCap = 5.0
)

// Evaluator answers best-signal queries for one instrument, typically the
// wall detector.
type Evaluator interface {
	Evaluate(ctx context.Context, instID string, price float64) (domain.Signal, error)
}

// Params holds the scan filters.
type Params struct {
	Watchlist      []string
	MinSignalScore float64
	MaxSpreadPct   float64
	MinVolume24h   float64
	ScanInterval   time.Duration
}

// Scanner is a single-goroutine actor. Ticker events update its price view;
// a repeating timer drives scans; queries and subscriptions are served from
// the same loop.
type Scanner struct {
	params    Params
	evaluator Evaluator
	bus       domain.EventPublisher // optional

	tickers     chan domain.TickerEvent
	queries     chan scanQuery
	subscribers chan chan domain.InstrumentScore

	lastTicker map[string]domain.TickerEvent
	rankings   []domain.InstrumentScore
	subs       []chan domain.InstrumentScore

	// lastPushed suppresses re-pushing an unchanged top opportunity.
	lastPushed pushKey

	now func() time.Time

	logger *slog.Logger
}

type pushKey struct {
	instID string
	entry  float64
	score  float64
}

type scanQuery struct {
	best  bool
	reply chan scanReply
}

type scanReply struct {
	score    domain.InstrumentScore
	rankings []domain.InstrumentScore
	err      error
}

// NewScanner creates a Scanner over the given watchlist.
func NewScanner(params Params, evaluator Evaluator, logger *slog.Logger) *Scanner {
	return &Scanner{
		params:      params,
		evaluator:   evaluator,
		tickers:     make(chan domain.TickerEvent, tickerInboxSize),
		queries:     make(chan scanQuery),
		subscribers: make(chan chan domain.InstrumentScore, 8),
		lastTicker:  make(map[string]domain.TickerEvent),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With(slog.String("component", "watchlist_scanner")),
	}
}

// SetEventPublisher wires a bus for found opportunities.
func (s *Scanner) SetEventPublisher(b domain.EventPublisher) { s.bus = b }

// HandleTicker enqueues a ticker event.
func (s *Scanner) HandleTicker(ctx context.Context, ev domain.TickerEvent) {
	select {
	case s.tickers <- ev:
	case <-ctx.Done():
	}
}

// Subscribe registers a subscriber for top opportunities.
func (s *Scanner) Subscribe() <-chan domain.InstrumentScore {
	ch := make(chan domain.InstrumentScore, subscriberSize)
	s.subscribers <- ch
	return ch
}

// BestOpportunity returns the current top-ranked instrument, or
// ErrNoOpportunity when nothing qualifies.
func (s *Scanner) BestOpportunity(ctx context.Context) (domain.InstrumentScore, error) {
	q := scanQuery{best: true, reply: make(chan scanReply, 1)}
	select {
	case s.queries <- q:
	case <-ctx.Done():
		return domain.InstrumentScore{}, ctx.Err()
	}
	select {
	case r := <-q.reply:
		return r.score, r.err
	case <-ctx.Done():
		return domain.InstrumentScore{}, ctx.Err()
	}
}

// Rankings returns the full result of the latest scan, best first.
func (s *Scanner) Rankings(ctx context.Context) ([]domain.InstrumentScore, error) {
	q := scanQuery{reply: make(chan scanReply, 1)}
	select {
	case s.queries <- q:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-q.reply:
		return r.rankings, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("watchlist scanner started",
		slog.Int("instruments", len(s.params.Watchlist)),
		slog.Duration("interval", s.params.ScanInterval),
	)
	defer s.logger.Info("watchlist scanner stopped")

	ticker := time.NewTicker(s.params.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-s.tickers:
			s.lastTicker[ev.InstID] = ev

		case <-ticker.C:
			s.scan(ctx)

		case q := <-s.queries:
			s.answer(q)

		case ch := <-s.subscribers:
			s.subs = append(s.subs, ch)
		}
	}
}

// scan recomputes the full ranking, replacing the previous one, and pushes
// the top opportunity when it qualifies and has changed since the last push.
func (s *Scanner) scan(ctx context.Context) {
	now := s.now()
	rankings := make([]domain.InstrumentScore, 0, len(s.params.Watchlist))
	for _, instID := range s.params.Watchlist {
		rankings = append(rankings, s.scoreInstrument(ctx, instID, now))
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].Score != rankings[j].Score {
			return rankings[i].Score > rankings[j].Score
		}
		return rankings[i].InstID < rankings[j].InstID
	})
	s.rankings = rankings

	top := rankings[0]
	if top.Score < s.params.MinSignalScore || top.Signal == nil {
		return
	}
	key := pushKey{instID: top.InstID, entry: top.Signal.Entry, score: top.Score}
	if key == s.lastPushed {
		return
	}
	s.lastPushed = key

	s.logger.Info("opportunity found",
		slog.String("inst_id", top.InstID),
		slog.Float64("score", top.Score),
		slog.String("direction", string(top.Signal.Direction)),
		slog.Float64("entry", top.Signal.Entry),
	)
	for _, ch := range s.subs {
		select {
		case ch <- top:
		default:
		}
	}
	s.publishOpportunity(ctx, top)
}

func (s *Scanner) publishOpportunity(ctx context.Context, top domain.InstrumentScore) {
	if s.bus == nil {
		return
	}
	body, err := json.Marshal(struct {
		Event string                 `json:"event"`
		Data  domain.InstrumentScore `json:"data"`
	}{"opportunity", top})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelOpportunities, body); err != nil {
		s.logger.Debug("opportunity publish failed", slog.String("error", err.Error()))
	}
}

// scoreInstrument builds one instrument's scan result. Disqualifications are
// explicit: score 0 plus a reason, never a silent skip.
func (s *Scanner) scoreInstrument(ctx context.Context, instID string, now time.Time) domain.InstrumentScore {
	out := domain.InstrumentScore{InstID: instID, ScannedAt: now}

	tick, ok := s.lastTicker[instID]
	if !ok {
		out.Reason = "no ticker data"
		return out
	}
	out.LastPrice = tick.Last
	out.Volume24h = tick.Volume24h
	if tick.Bid > 0 && tick.Ask > 0 {
		mid := (tick.Bid + tick.Ask) / 2
		out.SpreadPct = (tick.Ask - tick.Bid) / mid
	}

	if out.SpreadPct > s.params.MaxSpreadPct {
		out.Reason = "spread too wide"
		return out
	}
	if tick.Volume24h < s.params.MinVolume24h {
		out.Reason = "volume too low"
		return out
	}

	sig, err := s.evaluator.Evaluate(ctx, instID, tick.Last)
	if err != nil {
		out.Reason = "no wall signal"
		return out
	}

	score := sig.Score
	if s.params.MaxSpreadPct > 0 {
		score += (1 - out.SpreadPct/s.params.MaxSpreadPct) * spreadBonusCap
	}
	if s.params.MinVolume24h > 0 {
		score += math.Min(tick.Volume24h/(s.params.MinVolume24h*10), 1) * volumeBonusCap
	}
	out.Score = math.Min(score, 100)
	out.Signal = &sig
	return out
}

func (s *Scanner) answer(q scanQuery) {
	if q.best {
		if len(s.rankings) == 0 || s.rankings[0].Score < s.params.MinSignalScore || s.rankings[0].Signal == nil {
			q.reply <- scanReply{err: domain.ErrNoOpportunity}
			return
		}
		q.reply <- scanReply{score: s.rankings[0]}
		return
	}
	out := make([]domain.InstrumentScore, len(s.rankings))
	copy(out, s.rankings)
	q.reply <- scanReply{rankings: out}
}
