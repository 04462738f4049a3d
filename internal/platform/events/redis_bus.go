// Package events fans domain events out across server instances over Redis
// pub/sub. Every instance publishes to one channel and forwards what it
// receives, its own events included, to the local websocket hub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medqueue/medqueue/internal/platform/websocket"
)

const DefaultChannel = "queue-events"

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisBus implements websocket.EventPublisher on a Redis channel.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

func NewRedisBus(client *redis.Client, channel string, logger zerolog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "redis_bus").Str("channel", channel).Logger(),
	}
}

func (b *RedisBus) Publish(ctx context.Context, event websocket.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	b.logger.Debug().Str("event", event.Type).Str("resource_id", event.ResourceID).Msg("event published")
	return nil
}

// Run subscribes to the channel and forwards every event to sink until ctx
// is cancelled. go-redis reconnects the subscription on its own.
func (b *RedisBus) Run(ctx context.Context, sink websocket.EventPublisher) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info().Msg("subscribed to event channel")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(ctx, []byte(msg.Payload), sink)
		}
	}
}

// forward decodes one payload and hands it to sink. Malformed payloads are
// logged and skipped.
func (b *RedisBus) forward(ctx context.Context, payload []byte, sink websocket.EventPublisher) {
	var event websocket.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logger.Warn().Err(err).Msg("failed to unmarshal event")
		return
	}
	if err := sink.Publish(ctx, event); err != nil {
		b.logger.Error().Err(err).Str("event", event.Type).Msg("failed to forward event")
	}
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
