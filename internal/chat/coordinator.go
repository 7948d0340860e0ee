package chat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// SystemAuthor is the author name attached to join/leave/disconnect notices.
const SystemAuthor = "System"

// Transport delivers outbound events. It is an external at-least-once,
// best-effort channel: sends never block a workflow and are not acknowledged.
type Transport interface {
	// Subscribe adds the connection to the room's broadcast group.
	Subscribe(connectionID, room string)
	// Unsubscribe removes the connection from the room's broadcast group.
	Unsubscribe(connectionID, room string)
	// SendToConnection delivers an event to one connection only.
	SendToConnection(connectionID, event string, payload any)
	// BroadcastToRoom delivers an event to every connection subscribed to room.
	BroadcastToRoom(room, event string, payload any)
}

// Coordinator translates inbound connection events into store mutations and
// outbound broadcasts. Workflows for the same connection are serialized, so a
// disconnect always runs to completion after any in-flight workflow; workflows
// for distinct connections proceed concurrently, serialized only by the store.
type Coordinator struct {
	store     *Store
	transport Transport
	rooms     []string // fixed enumeration, configured order preserved
	roomSet   map[string]bool
	logger    *zap.Logger

	mu        sync.Mutex
	connLocks map[string]*connLock
}

// connLock is a per-connection workflow mutex with a hold/wait count so the
// entry is never removed while a caller is still blocked on it.
type connLock struct {
	mu      sync.Mutex
	waiters int
}

// NewCoordinator creates a Coordinator over the given store and transport.
//
// Precondition: store, transport, and logger must be non-nil; rooms must be a
// non-empty, duplicate-free enumeration (config validation guarantees this).
func NewCoordinator(store *Store, transport Transport, rooms []string, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		transport: transport,
		rooms:     rooms,
		roomSet:   lo.SliceToMap(rooms, func(r string) (string, bool) { return r, true }),
		logger:    logger,
		connLocks: make(map[string]*connLock),
	}
}

// Rooms returns the fixed room enumeration in configured order.
func (c *Coordinator) Rooms() []string {
	out := make([]string, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// lockConn serializes workflows for one connection. The returned func releases
// the lock.
func (c *Coordinator) lockConn(connectionID string) func() {
	c.mu.Lock()
	l, ok := c.connLocks[connectionID]
	if !ok {
		l = &connLock{}
		c.connLocks[connectionID] = l
	}
	l.waiters++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.waiters--
		c.mu.Unlock()
	}
}

// releaseConn drops the lock entry once nothing holds or waits on it.
// The transport dispatches a connection's events serially, so a waiter at
// disconnect time cannot occur there; an entry kept alive by one anyway is
// reaped on the next disconnect for the same ID.
func (c *Coordinator) releaseConn(connectionID string) {
	c.mu.Lock()
	if l, ok := c.connLocks[connectionID]; ok && l.waiters == 0 {
		delete(c.connLocks, connectionID)
	}
	c.mu.Unlock()
}

// Connect acknowledges a new transport connection. No user record is created
// yet; that happens lazily on join.
func (c *Coordinator) Connect(connectionID string) {
	c.transport.SendToConnection(connectionID, EventConnect, nil)
	c.logger.Info("connection established", zap.String("connection_id", connectionID))
}

// ListRooms replies to the requesting connection with the room enumeration.
// Read-only; no store interaction.
func (c *Coordinator) ListRooms(connectionID string) {
	c.transport.SendToConnection(connectionID, EventRooms, c.Rooms())
	c.logger.Debug("rooms listed", zap.String("connection_id", connectionID))
}

// Join places the connection into the requested room: the user record is
// created, the connection is subscribed to the room's broadcast group, a
// system join notice goes to the whole room, and a private move ack goes to
// the joiner. A connection already in a room is detached from it first, with
// the usual departure notice (join doubles as "switch room").
//
// Postcondition: On error, no store state has changed.
func (c *Coordinator) Join(connectionID string, req JoinRequest) error {
	unlock := c.lockConn(connectionID)
	defer unlock()

	if err := req.Validate(); err != nil {
		return err
	}
	if !c.roomSet[req.Room] {
		return &ValidationError{
			Field: "room",
			Reason: fmt.Sprintf("room %q does not exist; available rooms: %s",
				req.Room, strings.Join(c.rooms, ", ")),
		}
	}
	user, err := NewUser(connectionID, req.Name, req.Room)
	if err != nil {
		return err
	}

	// All validation passed; commit. A previous membership is released first.
	// The user's lifetime is the connection, not the room, so the message
	// history survives the rebuild.
	if existing, ok := c.store.GetUser(connectionID); ok {
		c.detach(existing, fmt.Sprintf("%s left the room", existing.Name()))
		c.store.RemoveUser(connectionID)
		for _, msg := range existing.History() {
			user.AppendMessage(msg)
		}
	}

	if err := c.store.AddUser(user); err != nil {
		return err
	}
	c.transport.Subscribe(connectionID, req.Room)
	c.store.AddUserToRoom(connectionID, req.Room)

	c.transport.BroadcastToRoom(req.Room, EventMessage, MessageEvent{
		Author: SystemAuthor,
		Text:   fmt.Sprintf("%s joined the room", user.Name()),
	})
	c.transport.SendToConnection(connectionID, EventMove, MoveEvent{Room: req.Room})

	c.logger.Info("user joined room",
		zap.String("connection_id", connectionID),
		zap.String("name", user.Name()),
		zap.String("room", req.Room),
	)
	return nil
}

// Leave removes the connection from its current room. The departure notice is
// broadcast while the leaver is still a member, so the leaving connection
// receives its own notice; only then is the membership removed.
func (c *Coordinator) Leave(connectionID string) error {
	unlock := c.lockConn(connectionID)
	defer unlock()

	user, ok := c.store.GetUser(connectionID)
	if !ok {
		return &NotFoundError{Kind: "user", ID: connectionID}
	}
	room := user.CurrentRoom()
	if room == "" {
		return &ValidationError{Field: "room", Reason: "user is not in a room"}
	}

	c.detach(user, fmt.Sprintf("%s left the room", user.Name()))

	c.logger.Info("user left room",
		zap.String("connection_id", connectionID),
		zap.String("name", user.Name()),
		zap.String("room", room),
	)
	return nil
}

// SendMessage broadcasts a chat message from the connection's user to every
// member of its current room, sender included, and appends it to the user's
// history.
func (c *Coordinator) SendMessage(connectionID string, req SendMessageRequest) error {
	unlock := c.lockConn(connectionID)
	defer unlock()

	if err := req.Validate(); err != nil {
		return err
	}
	user, ok := c.store.GetUser(connectionID)
	if !ok {
		return &NotFoundError{Kind: "user", ID: connectionID}
	}
	room := user.CurrentRoom()
	if room == "" {
		return &ValidationError{Field: "room", Reason: "user is not in a room"}
	}

	msg, err := NewMessage(req.Text, user.Name(), room)
	if err != nil {
		return err
	}
	user.AppendMessage(msg)

	c.transport.BroadcastToRoom(room, EventMessage, MessageEvent{
		Author: msg.Author,
		Text:   msg.Text,
	})

	c.logger.Debug("message sent",
		zap.String("connection_id", connectionID),
		zap.String("room", room),
	)
	return nil
}

// Disconnect performs best-effort cleanup when the transport reports the
// connection gone: a disconnect notice to the room if the user was in one,
// then unconditional removal of the user record. Never returns an error; the
// connection can no longer receive a reply.
func (c *Coordinator) Disconnect(connectionID string) {
	unlock := c.lockConn(connectionID)
	defer func() {
		unlock()
		c.releaseConn(connectionID)
	}()

	user, ok := c.store.GetUser(connectionID)
	if ok && user.CurrentRoom() != "" {
		c.detach(user, fmt.Sprintf("%s disconnected", user.Name()))
	}
	c.store.RemoveUser(connectionID)

	c.logger.Info("connection cleaned up",
		zap.String("connection_id", connectionID),
		zap.Bool("had_user", ok),
	)
}

// detach broadcasts the given system notice to the user's current room, then
// unsubscribes and removes the membership. Broadcast-before-removal is
// deliberate: the departing member still receives the notice.
func (c *Coordinator) detach(user *User, notice string) {
	room := user.CurrentRoom()
	if room == "" {
		return
	}
	c.transport.BroadcastToRoom(room, EventMessage, MessageEvent{
		Author: SystemAuthor,
		Text:   notice,
	})
	c.transport.Unsubscribe(user.ConnectionID(), room)
	c.store.RemoveUserFromRoom(user.ConnectionID(), room)
}
