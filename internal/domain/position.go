package domain

import "time"

// CloseReason tags why a position was closed.
type CloseReason string

const (
	CloseReasonManual      CloseReason = "manual"
	CloseReasonMaxHold     CloseReason = "max_hold_time"
	CloseReasonEmergency   CloseReason = "emergency"
	CloseReasonReconcile   CloseReason = "reconcile_orphan"
	CloseReasonTPSLTrigger CloseReason = "tp_sl_trigger"
)

// Position is the single open trade managed by the executor. The JSON shape
// is the persisted trade_state.json payload.
type Position struct {
	Version     int       `json:"version"`
	SavedAt     time.Time `json:"saved_at"`
	InstID      string    `json:"inst_id"`
	Direction   Direction `json:"direction"`
	Side        string    `json:"side"` // exchange position side: "long" or "short"
	Size        float64   `json:"size"`
	EntryPrice  float64   `json:"entry_price"`
	OrderID     string    `json:"order_id"`
	StopOrderID string    `json:"stop_order_id"`
	TPOrderID   string    `json:"tp_order_id"`
	SignalScore float64   `json:"signal_score"`
	OpenedAt    time.Time `json:"opened_at"`
}
