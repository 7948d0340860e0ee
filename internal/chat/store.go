package chat

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Store is the authoritative in-memory mapping of connections to users and
// rooms to member sets. All methods are safe for concurrent use; mutations to
// a user's room field and the room membership sets happen under one lock so
// the two structures never disagree at rest.
type Store struct {
	mu    sync.RWMutex
	users map[string]*User           // connectionID → user
	rooms map[string]map[string]bool // room name → set of connectionIDs
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users: make(map[string]*User),
		rooms: make(map[string]map[string]bool),
	}
}

// AddUser registers a new user under its connection ID.
//
// Postcondition: Returns ErrDuplicateConnection (wrapped) if the ID is already
// registered; the store is unchanged in that case.
func (s *Store) AddUser(user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := user.ConnectionID()
	if _, exists := s.users[id]; exists {
		return fmt.Errorf("connection %q: %w", id, ErrDuplicateConnection)
	}
	s.users[id] = user
	return nil
}

// GetUser looks up the user for the given connection ID.
//
// Postcondition: Returns (user, true) if found, or (nil, false) otherwise.
func (s *Store) GetUser(connectionID string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[connectionID]
	return user, ok
}

// RemoveUser deletes the user record, first removing any room membership.
// Idempotent: removing an unknown connection ID is a no-op.
func (s *Store) RemoveUser(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[connectionID]
	if !exists {
		return
	}
	if room := user.CurrentRoom(); room != "" {
		s.removeMemberLocked(connectionID, room)
		user.leaveRoom()
	}
	delete(s.users, connectionID)
}

// AddUserToRoom inserts the connection into the room's member set, creating
// the set on first member, and records the room on the user. Idempotent.
func (s *Store) AddUserToRoom(connectionID, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rooms[room] == nil {
		s.rooms[room] = make(map[string]bool)
	}
	s.rooms[room][connectionID] = true
	if user, ok := s.users[connectionID]; ok {
		user.joinRoom(room)
	}
}

// RemoveUserFromRoom removes the connection from the room's member set and
// clears the user's room field. A room left with zero members is deleted
// entirely. Idempotent.
func (s *Store) RemoveUserFromRoom(connectionID, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeMemberLocked(connectionID, room)
	if user, ok := s.users[connectionID]; ok && user.CurrentRoom() == room {
		user.leaveRoom()
	}
}

func (s *Store) removeMemberLocked(connectionID, room string) {
	if members, ok := s.rooms[room]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
}

// UsersInRoom resolves the room's member connection IDs to live user records,
// silently skipping any ID with no corresponding user.
func (s *Store) UsersInRoom(room string) []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.rooms[room]
	if !ok {
		return nil
	}
	users := make([]*User, 0, len(members))
	for id := range members {
		if user, found := s.users[id]; found {
			users = append(users, user)
		}
	}
	return users
}

// MemberIDs returns the connection IDs currently in the room's member set.
func (s *Store) MemberIDs(room string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.rooms[room]
	if !ok {
		return nil
	}
	return lo.Keys(members)
}

// RoomMemberCount returns the room's member count, 0 when the room is absent.
func (s *Store) RoomMemberCount(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

// ActiveRooms returns the sorted names of rooms with at least one member.
// Empty rooms are pruned on removal, so every entry here has members.
func (s *Store) ActiveRooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := lo.Keys(s.rooms)
	sort.Strings(names)
	return names
}

// UserCount returns the total number of registered users.
func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
