package domain

import (
	"math"
	"time"
)

// WallSide is the book side a wall sits on.
type WallSide string

const (
	WallSideBid WallSide = "bid"
	WallSideAsk WallSide = "ask"
)

// Wall is a detected liquidity anomaly: a resting level whose size dwarfs the
// median of its side. It is tracked across book updates; absorption evidence
// accumulates from trades executing at the level without consuming it.
type Wall struct {
	InstID           string
	Side             WallSide
	Price            float64
	Size             float64
	Multiplier       float64
	FirstSeen        time.Time
	LastSeen         time.Time
	AbsorptionCount  int
	AbsorptionVolume float64
}

// Age returns how long the wall has been tracked as of now.
func (w Wall) Age(now time.Time) time.Duration {
	return now.Sub(w.FirstSeen)
}

// DistancePct returns the absolute fractional distance between the wall and
// the given reference price.
func (w Wall) DistancePct(price float64) float64 {
	if price == 0 {
		return math.Inf(1)
	}
	return math.Abs(w.Price-price) / price
}
