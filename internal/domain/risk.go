package domain

import "time"

// RiskStatus is the circuit-breaker state of the risk manager.
type RiskStatus string

const (
	RiskActive  RiskStatus = "active"
	RiskPaused  RiskStatus = "paused"
	RiskStopped RiskStatus = "stopped"
)

// PeriodState accumulates realized results over one rolling window. StartDate
// marks the wall-clock day the window began; when the boundary is crossed the
// period is rolled forward with a fresh starting balance.
type PeriodState struct {
	StartDate         string  `json:"start_date"` // YYYY-MM-DD
	StartingBalance   float64 `json:"starting_balance"`
	RealizedPnL       float64 `json:"realized_pnl"`
	TradeCount        int     `json:"trade_count"`
	WinCount          int     `json:"win_count"`
	LossCount         int     `json:"loss_count"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
}

// LossFraction returns realized loss as a positive fraction of the starting
// balance, or 0 while the period is flat or profitable.
func (p PeriodState) LossFraction() float64 {
	if p.StartingBalance <= 0 || p.RealizedPnL >= 0 {
		return 0
	}
	return -p.RealizedPnL / p.StartingBalance
}

// RiskState is the persisted shape of the risk manager (risk_state.json).
type RiskState struct {
	Version     int         `json:"version"`
	SavedAt     time.Time   `json:"saved_at"`
	Status      RiskStatus  `json:"status"`
	PausedUntil *time.Time  `json:"paused_until,omitempty"`
	PauseReason string      `json:"pause_reason,omitempty"`
	Daily       PeriodState `json:"daily"`
	Weekly      PeriodState `json:"weekly"`
	Monthly     PeriodState `json:"monthly"`
}
