package domain

import "time"

// Direction is the trade direction a signal proposes.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Signal is a scored trading candidate derived from one wall. Signals are
// recomputed on every evaluation and never persisted.
type Signal struct {
	InstID    string
	Direction Direction
	Entry     float64
	Stop      float64
	Target    float64
	Score     float64
	Wall      Wall
	CreatedAt time.Time
}

// InstrumentScore is one instrument's result from a watchlist scan. Reason is
// set when the instrument was disqualified (score 0).
type InstrumentScore struct {
	InstID    string
	Score     float64
	Signal    *Signal
	LastPrice float64
	SpreadPct float64
	Volume24h float64
	Reason    string
	ScannedAt time.Time
}
