package wall

import (
	"math"
	"time"

	"github.com/jlindqvist/scalpd/internal/domain"
)

// Score component caps. The five components plus the fixed spread term sum to
// at most 100 before clamping.
const (
	strengthCap    = 30.0
	persistenceCap = 20.0
	absorptionCap  = 25.0
	proximityCap   = 15.0
	spreadScore    = 5.0

	// entryOffsetPct places the entry just inside the wall: above a bid
	// wall, below an ask wall.
	entryOffsetPct = 0.0005
)

// scoreWall sums the five scoring components for a wall relative to the
// current price and clamps the result to [0, 100].
func scoreWall(w domain.Wall, price float64, p Params, now time.Time) float64 {
	// Strength: raw size multiplier over the side median, capped.
	strength := math.Min(w.Multiplier, strengthCap)

	// Persistence: age relative to the persistence window; a wall standing
	// for two full windows earns the cap.
	persistence := 0.0
	if p.Persistence > 0 {
		windows := float64(w.Age(now)) / float64(p.Persistence)
		persistence = math.Min(windows*persistenceCap/2, persistenceCap)
	}

	// Absorption: evidence the wall holds against flow, scaled by the
	// configured minimum event count.
	absorption := 0.0
	if w.AbsorptionCount > 0 {
		required := p.MinAbsorption
		if required < 1 {
			required = 1
		}
		absorption = math.Min(float64(w.AbsorptionCount)/float64(required)*absorptionCap/2, absorptionCap)
	}

	// Proximity: linear falloff from the cap at zero distance to zero at
	// the maximum distance.
	proximity := 0.0
	if p.MaxDistancePct > 0 {
		dist := w.DistancePct(price)
		if dist <= p.MaxDistancePct {
			proximity = (1 - dist/p.MaxDistancePct) * proximityCap
		}
	}

	total := strength + persistence + absorption + proximity + roundNumberBonus(w.Price, p.RoundNumberBonus) + spreadScore
	return math.Max(0, math.Min(total, 100))
}

// roundNumberBonus rewards psychologically significant price levels at
// decreasing weight: 10000 > 5000 > 1000 > 500 > 100.
func roundNumberBonus(price, bonus float64) float64 {
	if bonus <= 0 {
		return 0
	}
	switch {
	case divisibleBy(price, 10000):
		return bonus
	case divisibleBy(price, 5000):
		return bonus * 0.8
	case divisibleBy(price, 1000):
		return bonus * 0.6
	case divisibleBy(price, 500):
		return bonus * 0.4
	case divisibleBy(price, 100):
		return bonus * 0.2
	}
	return 0
}

func divisibleBy(price, step float64) bool {
	rem := math.Mod(price, step)
	return rem < 1e-9 || step-rem < 1e-9
}

// signalFromWall turns a scored wall into a directional signal. A bid wall
// supports price, so the trade is long with the stop tucked below the wall; an
// ask wall is the mirrored short.
func signalFromWall(w domain.Wall, score float64, p Params, now time.Time) domain.Signal {
	sig := domain.Signal{
		InstID:    w.InstID,
		Score:     score,
		Wall:      w,
		CreatedAt: now,
	}
	switch w.Side {
	case domain.WallSideBid:
		sig.Direction = domain.DirectionLong
		sig.Entry = w.Price * (1 + entryOffsetPct)
		sig.Stop = w.Price * (1 - p.StopLossPct)
		sig.Target = sig.Entry * (1 + p.TakeProfitPct)
	case domain.WallSideAsk:
		sig.Direction = domain.DirectionShort
		sig.Entry = w.Price * (1 - entryOffsetPct)
		sig.Stop = w.Price * (1 + p.StopLossPct)
		sig.Target = sig.Entry * (1 - p.TakeProfitPct)
	}
	return sig
}
