package domain

import "context"

// Bus channels the engine publishes on. Opportunities come from the scanner,
// position lifecycle events from the executor, breaker trips from the risk
// manager.
const (
	ChannelOpportunities = "scalpd:opportunities"
	ChannelPositions     = "scalpd:positions"
	ChannelRisk          = "scalpd:risk"
)

// EventPublisher pushes engine events to an external bus for dashboards and
// monitoring. Publishing is best-effort; failures must never influence
// trading decisions.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
