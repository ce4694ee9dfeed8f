package notify

import (
	"sync"

	"go.uber.org/zap"
)

const clientBufferSize = 16

// Frame is one serialized event together with the channel it arrived on.
type Frame struct {
	Channel string
	Payload []byte
}

// Hub broadcasts frames to registered websocket clients. Each client gets a
// buffered channel; a client that cannot keep up is dropped rather than
// allowed to stall the broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan Frame]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[chan Frame]struct{}),
		logger:  logger,
	}
}

// Register adds a subscriber and returns its frame channel. The caller must
// call Unregister when the connection closes.
func (h *Hub) Register() chan Frame {
	ch := make(chan Frame, clientBufferSize)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client registered", zap.Int("clients", count))
	return ch
}

func (h *Hub) Unregister(ch chan Frame) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client unregistered", zap.Int("clients", count))
}

// Broadcast fans a frame out to every client. Clients with a full buffer are
// unregistered so one slow reader cannot back up the rest.
func (h *Hub) Broadcast(frame Frame) {
	h.mu.RLock()
	stalled := make([]chan Frame, 0)
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
			stalled = append(stalled, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range stalled {
		h.logger.Warn("dropping slow websocket client")
		h.Unregister(ch)
	}
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
