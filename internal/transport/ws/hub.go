package ws

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks live connections and per-room subscription groups, and delivers
// outbound events. It implements chat.Transport. Delivery is best-effort: a
// connection whose send buffer is full is dropped rather than blocking the
// room, and sends to unknown connections or empty rooms are no-ops.
type Hub struct {
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]*client            // connectionID → client
	rooms map[string]map[string]*client // room → connectionID → client
}

// NewHub creates an empty Hub.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  make(map[string]*client),
		rooms:  make(map[string]map[string]*client),
	}
}

// register adds a client to the connection registry.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.conns[c.id] = c
	total := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("client registered",
		zap.String("connection_id", c.id),
		zap.Int("total_clients", total),
	)
}

// unregister removes the client from the registry and every subscription
// group, and closes it so the write pump exits. The send channel itself is
// never closed: a broadcaster that snapshotted the member list before removal
// may still enqueue, and enqueue after close is a no-op. Idempotent.
func (h *Hub) unregister(connectionID string) {
	h.mu.Lock()
	c, ok := h.conns[connectionID]
	if ok {
		delete(h.conns, connectionID)
		for room, members := range h.rooms {
			delete(members, connectionID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	total := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	h.logger.Info("client unregistered",
		zap.String("connection_id", connectionID),
		zap.Int("total_clients", total),
	)
}

// Subscribe adds the connection to the room's broadcast group.
func (h *Hub) Subscribe(connectionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connectionID]
	if !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*client)
	}
	h.rooms[room][connectionID] = c
}

// Unsubscribe removes the connection from the room's broadcast group.
func (h *Hub) Unsubscribe(connectionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// SendToConnection delivers an event to one connection only.
func (h *Hub) SendToConnection(connectionID, event string, payload any) {
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		h.logger.Error("encoding event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(c, event, frame)
}

// BroadcastToRoom delivers an event to every connection subscribed to room.
func (h *Hub) BroadcastToRoom(room, event string, payload any) {
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		h.logger.Error("encoding event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	members := make([]*client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		h.deliver(c, event, frame)
	}
}

// deliver enqueues a frame, dropping the connection when its buffer is full.
// The close unblocks the read pump, which runs the normal disconnect path.
func (h *Hub) deliver(c *client, event string, frame []byte) {
	if c.enqueue(frame) {
		return
	}
	h.logger.Warn("send buffer full, dropping connection",
		zap.String("connection_id", c.id),
		zap.String("event", event),
	)
	c.close()
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// closeAll tears down every connection; used on server shutdown.
func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
	h.logger.Info("closed all client connections", zap.Int("count", len(clients)))
}
