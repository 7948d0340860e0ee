package chat

import (
	"fmt"
	"strings"
	"sync"
)

// Name length bounds in runes, after trimming.
const (
	MinNameLen = 2
	MaxNameLen = 50
)

// User is one connected participant. The connection ID and name are fixed for
// the user's lifetime; the current room and message history are mutated only
// through the Store and Coordinator.
type User struct {
	connectionID string
	name         string

	mu          sync.RWMutex
	currentRoom string
	history     []Message
}

// NewUser validates and constructs a User placed in the given room.
//
// Precondition: connectionID must be non-empty; name must be 2-50 runes after
// trimming; room may be empty for a user not yet in a room.
// Postcondition: Returns a User with an empty history, or a *ValidationError.
func NewUser(connectionID, name, room string) (*User, error) {
	if connectionID == "" {
		return nil, &ValidationError{Field: "connection_id", Reason: "connection id must not be empty"}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "name must not be empty"}
	}
	if n := len([]rune(name)); n < MinNameLen || n > MaxNameLen {
		return nil, &ValidationError{
			Field:  "name",
			Reason: fmt.Sprintf("name must be between %d and %d characters", MinNameLen, MaxNameLen),
		}
	}

	return &User{
		connectionID: connectionID,
		name:         name,
		currentRoom:  room,
	}, nil
}

// ConnectionID returns the opaque transport-supplied connection identifier.
func (u *User) ConnectionID() string {
	return u.connectionID
}

// Name returns the trimmed display name.
func (u *User) Name() string {
	return u.name
}

// CurrentRoom returns the room the user currently occupies, or "" when the
// user is not in a room.
func (u *User) CurrentRoom() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.currentRoom
}

// joinRoom and leaveRoom are invoked by the Store under its lock so that the
// user's room field and the room membership sets change together.
func (u *User) joinRoom(room string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.currentRoom = room
}

func (u *User) leaveRoom() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.currentRoom = ""
}

// AppendMessage appends a message to the user's history. History is
// append-only; insertion order is preserved.
func (u *User) AppendMessage(msg Message) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.history = append(u.history, msg)
}

// History returns a copy of the user's message history in insertion order.
func (u *User) History() []Message {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]Message, len(u.history))
	copy(out, u.history)
	return out
}
