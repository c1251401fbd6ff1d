package domain

import (
	"context"
	"time"
)

// TradeRecord is one closed trade written to the journal.
type TradeRecord struct {
	ID          string
	InstID      string
	Direction   Direction
	Size        float64
	EntryPrice  float64
	ExitPrice   float64
	PnL         float64
	SignalScore float64
	CloseReason CloseReason
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// TradeJournal stores closed trades for later analysis and archival.
type TradeJournal interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
