package domain

import "errors"

var (
	ErrNoBook        = errors.New("no book snapshot received yet")
	ErrNoSignal      = errors.New("no qualifying wall signal")
	ErrNoOpportunity = errors.New("no qualifying opportunity")
	ErrNoPosition    = errors.New("no open position")
	ErrTradingHalted = errors.New("trading halted")
	ErrInTrade       = errors.New("position already open")
	ErrNotFound      = errors.New("not found")
	ErrWSDisconnect  = errors.New("websocket disconnected")
)
