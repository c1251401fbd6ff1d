package wall

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlindqvist/scalpd/internal/domain"
)

func testParams() Params {
	return Params{
		MinMultiplier:    10,
		Persistence:      30 * time.Second,
		MinAbsorption:    3,
		MaxDistancePct:   0.005,
		RoundNumberBonus: 10,
		MinSignalScore:   60,
		StopLossPct:      0.004,
		TakeProfitPct:    0.006,
	}
}

func newTestDetector(t *testing.T, clock *time.Time) *Detector {
	t.Helper()
	d := NewDetector(testParams(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if clock != nil {
		d.now = func() time.Time { return *clock }
	}
	return d
}

func bidBook(instID string, bids ...domain.PriceLevel) domain.BookUpdate {
	return domain.BookUpdate{InstID: instID, Book: domain.BookState{InstID: instID, Bids: bids}}
}

func TestDetectSingleBidWall(t *testing.T) {
	d := newTestDetector(t, nil)

	// Sizes 2.0, 1.5, 1.0, 50.0, 2.5, 1.8 sorted: 1.0 1.5 1.8 2.0 2.5 50.0.
	// Even count, so median = (1.8+2.0)/2 = 1.9 and threshold = 10*1.9 = 19.
	// Only the 50.0 level clears it, at multiplier 50/1.9 = 26.32.
	d.onBookUpdate(bidBook("BTC-USDT-SWAP",
		domain.PriceLevel{Price: 64999, Size: 2.0},
		domain.PriceLevel{Price: 64998, Size: 1.5},
		domain.PriceLevel{Price: 64997, Size: 1.0},
		domain.PriceLevel{Price: 64996, Size: 50.0},
		domain.PriceLevel{Price: 64995, Size: 2.5},
		domain.PriceLevel{Price: 64994, Size: 1.8},
	))

	walls := d.copyWalls("BTC-USDT-SWAP")
	require.Len(t, walls, 1)
	assert.Equal(t, domain.WallSideBid, walls[0].Side)
	assert.Equal(t, 64996.0, walls[0].Price)
	assert.Equal(t, 50.0, walls[0].Size)
	assert.InDelta(t, 26.32, walls[0].Multiplier, 0.01)
}

func TestNoWallInUniformBook(t *testing.T) {
	d := newTestDetector(t, nil)

	d.onBookUpdate(bidBook("BTC-USDT-SWAP",
		domain.PriceLevel{Price: 64999, Size: 2.0},
		domain.PriceLevel{Price: 64998, Size: 2.1},
		domain.PriceLevel{Price: 64997, Size: 1.9},
	))

	assert.Empty(t, d.copyWalls("BTC-USDT-SWAP"))
}

func TestEmptyBookDetectsNothing(t *testing.T) {
	d := newTestDetector(t, nil)
	d.onBookUpdate(domain.BookUpdate{InstID: "BTC-USDT-SWAP"})
	assert.Empty(t, d.copyWalls("BTC-USDT-SWAP"))
}

func TestWallPersistsAcrossUpdates(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := newTestDetector(t, &clock)

	upd := bidBook("BTC-USDT-SWAP",
		domain.PriceLevel{Price: 64996, Size: 50},
		domain.PriceLevel{Price: 64995, Size: 2},
		domain.PriceLevel{Price: 64994, Size: 2},
	)
	d.onBookUpdate(upd)
	first := d.copyWalls("BTC-USDT-SWAP")[0].FirstSeen

	clock = clock.Add(45 * time.Second)
	d.onBookUpdate(upd)

	walls := d.copyWalls("BTC-USDT-SWAP")
	require.Len(t, walls, 1)
	// FirstSeen survives the re-detection; LastSeen moves forward.
	assert.Equal(t, first, walls[0].FirstSeen)
	assert.Equal(t, clock, walls[0].LastSeen)
	assert.Equal(t, 45*time.Second, walls[0].Age(clock))
}

func TestStaleWallForgotten(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := newTestDetector(t, &clock)

	d.onBookUpdate(bidBook("BTC-USDT-SWAP",
		domain.PriceLevel{Price: 64996, Size: 50},
		domain.PriceLevel{Price: 64995, Size: 2},
		domain.PriceLevel{Price: 64994, Size: 2},
	))
	require.Len(t, d.copyWalls("BTC-USDT-SWAP"), 1)

	// The wall disappears from the book. Inside 3x the persistence window it
	// is still tracked; beyond it, forgotten.
	gone := bidBook("BTC-USDT-SWAP",
		domain.PriceLevel{Price: 64995, Size: 2},
		domain.PriceLevel{Price: 64994, Size: 2},
	)

	clock = clock.Add(60 * time.Second)
	d.onBookUpdate(gone)
	assert.Len(t, d.copyWalls("BTC-USDT-SWAP"), 1)

	clock = clock.Add(60 * time.Second) // 120s > 3*30s since last seen
	d.onBookUpdate(gone)
	assert.Empty(t, d.copyWalls("BTC-USDT-SWAP"))
}

func TestAbsorptionCreditsMatchingSideOnly(t *testing.T) {
	d := newTestDetector(t, nil)

	d.onBookUpdate(bidBook("BTC-USDT-SWAP",
		domain.PriceLevel{Price: 64996, Size: 50},
		domain.PriceLevel{Price: 64995, Size: 2},
		domain.PriceLevel{Price: 64994, Size: 2},
	))

	// Sells into a bid wall absorb.
	d.onTrade(domain.TradeEvent{InstID: "BTC-USDT-SWAP", Side: domain.TradeSideSell, Price: 64996, Size: 1.5})
	d.onTrade(domain.TradeEvent{InstID: "BTC-USDT-SWAP", Side: domain.TradeSideSell, Price: 64996.5, Size: 0.5})
	// Buys at the same level do not.
	d.onTrade(domain.TradeEvent{InstID: "BTC-USDT-SWAP", Side: domain.TradeSideBuy, Price: 64996, Size: 3})
	// Too far away (>0.02%) does not.
	d.onTrade(domain.TradeEvent{InstID: "BTC-USDT-SWAP", Side: domain.TradeSideSell, Price: 65100, Size: 2})

	walls := d.copyWalls("BTC-USDT-SWAP")
	require.Len(t, walls, 1)
	assert.Equal(t, 2, walls[0].AbsorptionCount)
	assert.Equal(t, 2.0, walls[0].AbsorptionVolume)
}

func TestEvaluateProducesLongSignalFromBidWall(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := newTestDetector(t, &clock)

	d.onBookUpdate(bidBook("BTC-USDT-SWAP",
		domain.PriceLevel{Price: 65000, Size: 50},
		domain.PriceLevel{Price: 64995, Size: 2},
		domain.PriceLevel{Price: 64990, Size: 2},
	))
	// Age the wall a full persistence window and give it absorption evidence.
	clock = clock.Add(60 * time.Second)
	d.onBookUpdate(bidBook("BTC-USDT-SWAP",
		domain.PriceLevel{Price: 65000, Size: 50},
		domain.PriceLevel{Price: 64995, Size: 2},
		domain.PriceLevel{Price: 64990, Size: 2},
	))
	for i := 0; i < 3; i++ {
		d.onTrade(domain.TradeEvent{InstID: "BTC-USDT-SWAP", Side: domain.TradeSideSell, Price: 65000, Size: 1})
	}

	sig, err := d.evaluate("BTC-USDT-SWAP", 65010)
	require.NoError(t, err)

	assert.Equal(t, domain.DirectionLong, sig.Direction)
	assert.GreaterOrEqual(t, sig.Score, 60.0)
	// Entry sits just above the wall, stop below it, target above entry.
	assert.InDelta(t, 65000*1.0005, sig.Entry, 1e-6)
	assert.InDelta(t, 65000*0.996, sig.Stop, 1e-6)
	assert.InDelta(t, sig.Entry*1.006, sig.Target, 1e-6)
	assert.Equal(t, 65000.0, sig.Wall.Price)
}

func TestEvaluateShortSignalFromAskWall(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := newTestDetector(t, &clock)

	book := domain.BookUpdate{InstID: "ETH-USDT-SWAP", Book: domain.BookState{
		InstID: "ETH-USDT-SWAP",
		Asks: []domain.PriceLevel{
			{Price: 3000, Size: 40},
			{Price: 3001, Size: 2},
			{Price: 3002, Size: 2},
		},
	}}
	d.onBookUpdate(book)
	clock = clock.Add(60 * time.Second)
	d.onBookUpdate(book)
	for i := 0; i < 3; i++ {
		d.onTrade(domain.TradeEvent{InstID: "ETH-USDT-SWAP", Side: domain.TradeSideBuy, Price: 3000, Size: 1})
	}

	sig, err := d.evaluate("ETH-USDT-SWAP", 2999)
	require.NoError(t, err)

	assert.Equal(t, domain.DirectionShort, sig.Direction)
	assert.InDelta(t, 3000*0.9995, sig.Entry, 1e-9)
	assert.InDelta(t, 3000*1.004, sig.Stop, 1e-9)
	assert.InDelta(t, sig.Entry*0.994, sig.Target, 1e-9)
}

func TestEvaluateRejectsDistantWall(t *testing.T) {
	d := newTestDetector(t, nil)

	d.onBookUpdate(bidBook("BTC-USDT-SWAP",
		domain.PriceLevel{Price: 64000, Size: 50},
		domain.PriceLevel{Price: 63990, Size: 2},
		domain.PriceLevel{Price: 63980, Size: 2},
	))

	// 64000 is ~1.5% below 65000, beyond the 0.5% window.
	_, err := d.evaluate("BTC-USDT-SWAP", 65000)
	assert.ErrorIs(t, err, domain.ErrNoSignal)
}

func TestEvaluateNoWalls(t *testing.T) {
	d := newTestDetector(t, nil)
	_, err := d.evaluate("BTC-USDT-SWAP", 65000)
	assert.ErrorIs(t, err, domain.ErrNoSignal)

	_, err = d.evaluate("BTC-USDT-SWAP", 0)
	assert.ErrorIs(t, err, domain.ErrNoSignal)
}

func TestEvaluatePrefersCloserWall(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := newTestDetector(t, &clock)

	// Two walls identical except for distance to price; the closer one scores
	// higher on proximity and must win.
	d.walls["BTC-USDT-SWAP"] = map[wallKey]*domain.Wall{
		{side: domain.WallSideBid, price: 64900}: {
			InstID: "BTC-USDT-SWAP", Side: domain.WallSideBid, Price: 64900, Size: 50,
			Multiplier: 30, FirstSeen: clock.Add(-5 * time.Minute), LastSeen: clock,
			AbsorptionCount: 6,
		},
		{side: domain.WallSideBid, price: 64990}: {
			InstID: "BTC-USDT-SWAP", Side: domain.WallSideBid, Price: 64990, Size: 50,
			Multiplier: 30, FirstSeen: clock.Add(-5 * time.Minute), LastSeen: clock,
			AbsorptionCount: 6,
		},
	}

	sig, err := d.evaluate("BTC-USDT-SWAP", 65000)
	require.NoError(t, err)
	assert.Equal(t, 64990.0, sig.Wall.Price)
}

func TestMedianSize(t *testing.T) {
	assert.Equal(t, 0.0, medianSize(nil))
	assert.Equal(t, 3.0, medianSize([]domain.PriceLevel{{Size: 3}}))
	// Odd count: middle element.
	assert.Equal(t, 2.0, medianSize([]domain.PriceLevel{{Size: 1}, {Size: 2}, {Size: 9}}))
	// Even count: mean of the middle pair.
	assert.Equal(t, 1.9, medianSize([]domain.PriceLevel{
		{Size: 2.0}, {Size: 1.5}, {Size: 1.0}, {Size: 50.0}, {Size: 2.5}, {Size: 1.8},
	}))
}

func TestRoundNumberBonusTiers(t *testing.T) {
	assert.Equal(t, 10.0, roundNumberBonus(70000, 10))
	assert.Equal(t, 8.0, roundNumberBonus(65000, 10))
	assert.Equal(t, 6.0, roundNumberBonus(64000, 10))
	assert.Equal(t, 4.0, roundNumberBonus(64500, 10))
	assert.Equal(t, 2.0, roundNumberBonus(64100, 10))
	assert.Equal(t, 0.0, roundNumberBonus(64123, 10))
	assert.Equal(t, 0.0, roundNumberBonus(65000, 0))
}

func TestScoreWallComponents(t *testing.T) {
	p := testParams()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	w := domain.Wall{
		InstID:     "BTC-USDT-SWAP",
		Side:       domain.WallSideBid,
		Price:      64123, // no round-number bonus
		Size:       50,
		Multiplier: 20,
		FirstSeen:  now.Add(-30 * time.Second), // exactly one persistence window
		LastSeen:   now,
	}

	// strength 20 + persistence 10 (one window = half cap) + absorption 0 +
	// proximity 15 (zero distance) + spread 5 = 50.
	score := scoreWall(w, 64123, p, now)
	assert.InDelta(t, 50.0, score, 1e-9)

	// Three absorption events at min_absorption=3 earn half the 25 cap.
	w.AbsorptionCount = 3
	score = scoreWall(w, 64123, p, now)
	assert.InDelta(t, 62.5, score, 1e-9)

	// Strength is capped at 30 and the total clamps to 100.
	w.Multiplier = 500
	w.AbsorptionCount = 100
	w.FirstSeen = now.Add(-time.Hour)
	w.Price = 65000
	score = scoreWall(w, 65000, p, now)
	assert.Equal(t, 100.0, score)
}
