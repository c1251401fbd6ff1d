package domain

import "time"

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookState is the live order book for one instrument. Asks are sorted
// ascending by price, bids descending, so index 0 is always the touch.
type BookState struct {
	InstID    string
	Asks      []PriceLevel
	Bids      []PriceLevel
	UpdatedAt time.Time
}

// BestBid returns the highest bid, or 0 when the bid side is empty.
func (b BookState) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask, or 0 when the ask side is empty.
func (b BookState) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// MidPrice returns the midpoint of the touch, or 0 when either side is empty.
func (b BookState) MidPrice() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Clone returns a deep copy safe to hand to subscribers.
func (b BookState) Clone() BookState {
	out := b
	out.Asks = make([]PriceLevel, len(b.Asks))
	copy(out.Asks, b.Asks)
	out.Bids = make([]PriceLevel, len(b.Bids))
	copy(out.Bids, b.Bids)
	return out
}

// BookUpdate is broadcast by the book manager after every applied event.
type BookUpdate struct {
	InstID string
	Book   BookState
}
