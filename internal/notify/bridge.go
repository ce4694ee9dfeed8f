package notify

import (
	"context"

	"go.uber.org/zap"
)

// RunBridge subscribes to the Redis event channels and forwards every message
// to the hub until the context is cancelled. It is meant to run as one
// long-lived goroutine per process.
func RunBridge(ctx context.Context, bus *RedisBus, hub *Hub, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	pubsub := bus.Subscribe(ctx)
	defer func() {
		if err := pubsub.Close(); err != nil {
			logger.Warn("failed to close event subscription", zap.Error(err))
		}
	}()

	logger.Info("notification bridge started",
		zap.Strings("channels", []string{ChannelEmailStatus, ChannelPurchaseOrder}),
	)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			logger.Info("notification bridge stopped")
			return nil
		case msg, ok := <-messages:
			if !ok {
				logger.Warn("event subscription closed unexpectedly")
				return nil
			}
			hub.Broadcast(Frame{
				Channel: msg.Channel,
				Payload: []byte(msg.Payload),
			})
		}
	}
}
