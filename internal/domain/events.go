package domain

import "time"

// BookAction distinguishes full snapshots from incremental updates.
type BookAction string

const (
	BookActionSnapshot BookAction = "snapshot"
	BookActionDelta    BookAction = "update"
)

// TradeSide is the aggressor side of a public trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// BookEvent is one message from the exchange book channel.
type BookEvent struct {
	InstID    string
	Action    BookAction
	Asks      []PriceLevel
	Bids      []PriceLevel
	Timestamp time.Time
}

// TradeEvent is one public trade print.
type TradeEvent struct {
	InstID    string
	Side      TradeSide
	Price     float64
	Size      float64
	Timestamp time.Time
}

// TickerEvent carries last price, touch, and 24h volume for an instrument.
type TickerEvent struct {
	InstID    string
	Last      float64
	Bid       float64
	Ask       float64
	Volume24h float64
	Timestamp time.Time
}
