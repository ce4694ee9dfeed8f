package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/partsflow/approval-engine/internal/notify"
	"go.uber.org/zap"
)

// RegisterWebsocketRoutes wires the live notification endpoint. Clients
// receive every approval lifecycle event as a JSON text frame; the connection
// is read-only from the client's point of view.
func RegisterWebsocketRoutes(app fiber.Router, hub *notify.Hub, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/notifications", websocket.New(func(conn *websocket.Conn) {
		frames := hub.Register()
		defer hub.Unregister(frames)

		// Drain inbound frames so pings and close frames are handled; any
		// read error means the client is gone.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case frame, ok := <-frames:
				if !ok {
					// Dropped by the hub for falling behind.
					_ = conn.Close()
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, frame.Payload); err != nil {
					logger.Debug("websocket write failed, closing connection", zap.Error(err))
					return
				}
			}
		}
	}))
}
