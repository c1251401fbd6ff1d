package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jlindqvist/scalpd/internal/domain"
)

// EventBus implements domain.EventPublisher using Redis Pub/Sub.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Pub/Sub channel.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", channel, err)
	}
	return nil
}

var _ domain.EventPublisher = (*EventBus)(nil)
