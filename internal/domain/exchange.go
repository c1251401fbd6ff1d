package domain

import (
	"context"
	"fmt"
)

// MarginMode is the exchange margin regime for derivative positions.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// MarketOrderRequest describes a market entry order.
type MarketOrderRequest struct {
	InstID     string
	Side       TradeSide // buy opens long, sell opens short
	PosSide    string    // "long" or "short"
	Size       float64   // contracts
	MarginMode MarginMode
	ClientID   string
}

// TPSLRequest attaches a combined take-profit/stop-loss algo order to an open
// position. The exchange returns a single algo id covering both triggers.
type TPSLRequest struct {
	InstID     string
	Side       TradeSide // closing side, opposite of entry
	PosSide    string
	Size       float64
	MarginMode MarginMode
	TPPrice    float64
	SLPrice    float64
}

// ExchangePosition is one live position reported by the exchange.
type ExchangePosition struct {
	InstID     string
	PosSide    string
	Size       float64
	MarginMode MarginMode
	AvgEntry   float64
	UnrealPnL  float64
}

// TradingClient is the narrow interface through which the executor touches
// the exchange's trading endpoints. Implementations live outside the engine
// core; the executor never sees wire details.
type TradingClient interface {
	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (orderID string, err error)
	PlaceTPSL(ctx context.Context, req TPSLRequest) (algoID string, err error)
	CancelTPSL(ctx context.Context, instID, algoID string) error
	ClosePosition(ctx context.Context, instID string, mode MarginMode, posSide string) error
	ListPositions(ctx context.Context) ([]ExchangePosition, error)
}

// AccountClient exposes the account equity used for risk sizing.
type AccountClient interface {
	Equity(ctx context.Context) (float64, error)
}

// ExchangeError is a structured rejection from the exchange.
type ExchangeError struct {
	Code    string
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange rejected request (code %s): %s", e.Code, e.Message)
}
