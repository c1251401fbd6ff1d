// Package wall detects statistically anomalous liquidity levels from live
// book updates, tracks their persistence and trade absorption, and scores
// them into trading signals.
package wall

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jlindqvist/scalpd/internal/domain"
)

const (
	tradeInboxSize = 512

	// absorptionTolerance is the fractional distance within which a trade
	// counts as executing "at" a wall.
	absorptionTolerance = 0.0002

	// staleFactor multiplies the persistence window to decide when an
	// undetected wall is forgotten.
	staleFactor = 3
)

// Params holds the wall-detection thresholds and the exit fractions used to
// derive entry/stop/target from a scored wall.
type Params struct {
	MinMultiplier    float64
	Persistence      time.Duration
	MinAbsorption    int
	MaxDistancePct   float64
	RoundNumberBonus float64
	MinSignalScore   float64
	StopLossPct      float64
	TakeProfitPct    float64
}

type wallKey struct {
	side  domain.WallSide
	price float64
}

// Detector is a single-goroutine actor owning the wall set for every
// instrument. It consumes book updates and trade events and answers
// wall/signal queries in its own turn.
type Detector struct {
	params Params

	trades  chan domain.TradeEvent
	queries chan wallQuery

	walls map[string]map[wallKey]*domain.Wall

	now func() time.Time

	logger *slog.Logger
}

type wallQueryKind int

const (
	queryWalls wallQueryKind = iota
	queryAllWalls
	queryEvaluate
)

type wallQuery struct {
	kind   wallQueryKind
	instID string
	price  float64
	reply  chan wallReply
}

type wallReply struct {
	walls  []domain.Wall
	all    map[string][]domain.Wall
	signal domain.Signal
	err    error
}

// NewDetector creates a Detector with the given thresholds.
func NewDetector(params Params, logger *slog.Logger) *Detector {
	return &Detector{
		params:  params,
		trades:  make(chan domain.TradeEvent, tradeInboxSize),
		queries: make(chan wallQuery),
		walls:   make(map[string]map[wallKey]*domain.Wall),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "wall_detector")),
	}
}

// HandleTrade enqueues a public trade for absorption tracking.
func (d *Detector) HandleTrade(ctx context.Context, ev domain.TradeEvent) {
	select {
	case d.trades <- ev:
	case <-ctx.Done():
	}
}

// Walls returns copies of the tracked walls for one instrument.
func (d *Detector) Walls(ctx context.Context, instID string) ([]domain.Wall, error) {
	r, err := d.ask(ctx, wallQuery{kind: queryWalls, instID: instID})
	if err != nil {
		return nil, err
	}
	return r.walls, nil
}

// AllWalls returns copies of every tracked wall, keyed by instrument.
func (d *Detector) AllWalls(ctx context.Context) (map[string][]domain.Wall, error) {
	r, err := d.ask(ctx, wallQuery{kind: queryAllWalls})
	if err != nil {
		return nil, err
	}
	return r.all, nil
}

// Evaluate scores the instrument's walls against the current price and
// returns the best qualifying signal, or ErrNoSignal when nothing qualifies.
func (d *Detector) Evaluate(ctx context.Context, instID string, price float64) (domain.Signal, error) {
	r, err := d.ask(ctx, wallQuery{kind: queryEvaluate, instID: instID, price: price})
	if err != nil {
		return domain.Signal{}, err
	}
	return r.signal, r.err
}

func (d *Detector) ask(ctx context.Context, q wallQuery) (wallReply, error) {
	q.reply = make(chan wallReply, 1)
	select {
	case d.queries <- q:
	case <-ctx.Done():
		return wallReply{}, ctx.Err()
	}
	select {
	case r := <-q.reply:
		return r, nil
	case <-ctx.Done():
		return wallReply{}, ctx.Err()
	}
}

// Run consumes book updates from books plus the trade inbox until ctx is
// cancelled.
func (d *Detector) Run(ctx context.Context, books <-chan domain.BookUpdate) error {
	d.logger.Info("wall detector started")
	defer d.logger.Info("wall detector stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case upd, ok := <-books:
			if !ok {
				return nil
			}
			d.onBookUpdate(upd)

		case ev := <-d.trades:
			d.onTrade(ev)

		case q := <-d.queries:
			d.answer(q)
		}
	}
}

// onBookUpdate detects candidate walls on both sides and merges them into the
// tracked set for the instrument.
func (d *Detector) onBookUpdate(upd domain.BookUpdate) {
	now := d.now()
	tracked := d.walls[upd.InstID]
	if tracked == nil {
		tracked = make(map[wallKey]*domain.Wall)
		d.walls[upd.InstID] = tracked
	}

	seen := make(map[wallKey]bool)
	d.detectSide(upd.InstID, domain.WallSideBid, upd.Book.Bids, tracked, seen, now)
	d.detectSide(upd.InstID, domain.WallSideAsk, upd.Book.Asks, tracked, seen, now)

	// Forget walls that have not been re-detected for long enough.
	maxAge := staleFactor * d.params.Persistence
	for key, w := range tracked {
		if seen[key] {
			continue
		}
		if now.Sub(w.LastSeen) > maxAge {
			delete(tracked, key)
		}
	}
}

// detectSide finds levels whose size clears the median multiplier threshold
// and upserts them into tracked.
func (d *Detector) detectSide(
	instID string,
	side domain.WallSide,
	levels []domain.PriceLevel,
	tracked map[wallKey]*domain.Wall,
	seen map[wallKey]bool,
	now time.Time,
) {
	med := medianSize(levels)
	if med <= 0 {
		return
	}
	threshold := d.params.MinMultiplier * med

	for _, lvl := range levels {
		if lvl.Size < threshold {
			continue
		}
		mult := lvl.Size / med
		key := wallKey{side: side, price: lvl.Price}
		seen[key] = true

		if w, ok := tracked[key]; ok {
			w.Size = lvl.Size
			w.Multiplier = mult
			w.LastSeen = now
			continue
		}
		tracked[key] = &domain.Wall{
			InstID:     instID,
			Side:       side,
			Price:      lvl.Price,
			Size:       lvl.Size,
			Multiplier: mult,
			FirstSeen:  now,
			LastSeen:   now,
		}
		d.logger.Debug("wall detected",
			slog.String("inst_id", instID),
			slog.String("side", string(side)),
			slog.Float64("price", lvl.Price),
			slog.Float64("multiplier", mult),
		)
	}
}

// onTrade credits absorption to every wall the trade touches on the matching
// side: sells hitting bid walls, buys lifting into ask walls.
func (d *Detector) onTrade(ev domain.TradeEvent) {
	tracked := d.walls[ev.InstID]
	if len(tracked) == 0 {
		return
	}
	for _, w := range tracked {
		if w.Price <= 0 {
			continue
		}
		if math.Abs(ev.Price-w.Price)/w.Price > absorptionTolerance {
			continue
		}
		absorbing := (ev.Side == domain.TradeSideSell && w.Side == domain.WallSideBid) ||
			(ev.Side == domain.TradeSideBuy && w.Side == domain.WallSideAsk)
		if !absorbing {
			continue
		}
		w.AbsorptionCount++
		w.AbsorptionVolume += ev.Size
	}
}

func (d *Detector) answer(q wallQuery) {
	switch q.kind {
	case queryWalls:
		q.reply <- wallReply{walls: d.copyWalls(q.instID)}

	case queryAllWalls:
		all := make(map[string][]domain.Wall, len(d.walls))
		for instID := range d.walls {
			if ws := d.copyWalls(instID); len(ws) > 0 {
				all[instID] = ws
			}
		}
		q.reply <- wallReply{all: all}

	case queryEvaluate:
		sig, err := d.evaluate(q.instID, q.price)
		q.reply <- wallReply{signal: sig, err: err}
	}
}

func (d *Detector) copyWalls(instID string) []domain.Wall {
	tracked := d.walls[instID]
	out := make([]domain.Wall, 0, len(tracked))
	for _, w := range tracked {
		out = append(out, *w)
	}
	return out
}

// evaluate scores every wall within range of price and returns the best
// qualifying signal. Exact score ties break by smallest distance to price,
// then by lower wall price, so the result is deterministic regardless of map
// iteration order.
func (d *Detector) evaluate(instID string, price float64) (domain.Signal, error) {
	if price <= 0 {
		return domain.Signal{}, domain.ErrNoSignal
	}
	now := d.now()

	var (
		best      *domain.Wall
		bestScore float64
		bestDist  float64
	)
	for _, w := range d.walls[instID] {
		dist := w.DistancePct(price)
		if dist > d.params.MaxDistancePct {
			continue
		}
		score := scoreWall(*w, price, d.params, now)
		if score < d.params.MinSignalScore {
			continue
		}
		if best == nil ||
			score > bestScore ||
			(score == bestScore && (dist < bestDist || (dist == bestDist && w.Price < best.Price))) {
			best = w
			bestScore = score
			bestDist = dist
		}
	}
	if best == nil {
		return domain.Signal{}, domain.ErrNoSignal
	}
	return signalFromWall(*best, bestScore, d.params, now), nil
}

// medianSize returns the median level size for one book side.
func medianSize(levels []domain.PriceLevel) float64 {
	if len(levels) == 0 {
		return 0
	}
	sizes := make([]float64, len(levels))
	for i, lvl := range levels {
		sizes[i] = lvl.Size
	}
	sort.Float64s(sizes)
	mid := len(sizes) / 2
	if len(sizes)%2 == 1 {
		return sizes[mid]
	}
	return (sizes[mid-1] + sizes[mid]) / 2
}
