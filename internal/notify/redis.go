package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus publishes events to Redis pub/sub channels so every running API
// instance can forward them to its own websocket clients.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

var _ Bus = (*RedisBus)(nil)

func NewRedisBus(client *redis.Client, logger *zap.Logger) (*RedisBus, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisBus{
		client: client,
		logger: logger,
	}, nil
}

func (b *RedisBus) PublishEmailStatus(ctx context.Context, update EmailStatusUpdate) error {
	if err := update.Validate(); err != nil {
		return fmt.Errorf("invalid email status update: %w", err)
	}
	return b.publish(ctx, ChannelEmailStatus, update)
}

func (b *RedisBus) PublishPurchaseOrder(ctx context.Context, update PurchaseOrderUpdate) error {
	if err := update.Validate(); err != nil {
		return fmt.Errorf("invalid purchase order update: %w", err)
	}
	return b.publish(ctx, ChannelPurchaseOrder, update)
}

func (b *RedisBus) publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event for %s: %w", channel, err)
	}

	receivers, err := b.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	if receivers == 0 {
		b.logger.Debug("event published with no subscribers", zap.String("channel", channel))
	}
	return nil
}

// Subscribe opens a pub/sub subscription on both event channels. The caller
// owns the returned PubSub and must close it.
func (b *RedisBus) Subscribe(ctx context.Context) *redis.PubSub {
	return b.client.Subscribe(ctx, ChannelEmailStatus, ChannelPurchaseOrder)
}
