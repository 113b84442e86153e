package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pulsefeed/social-graph-service/internal/domain"
)

// RedisBridge publishes relationship events to a Redis pub/sub channel.
// Subscribers (the notification fan-out service) pick them up from there.
type RedisBridge struct {
	client  *redis.Client
	channel string
}

// NewRedisBridge creates a Redis-backed bridge and verifies connectivity.
func NewRedisBridge(address, password string, db int, channel string) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if channel == "" {
		channel = "social:relationship:events"
	}

	return &RedisBridge{client: client, channel: channel}, nil
}

// Publish sends the event as JSON to the configured channel.
func (b *RedisBridge) Publish(ctx context.Context, event domain.RelationshipEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal relationship event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish relationship event: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}

var _ NotificationBridge = (*RedisBridge)(nil)
