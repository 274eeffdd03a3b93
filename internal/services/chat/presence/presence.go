// Package presence tracks which user is in which room and which live
// connection carries that membership.
//
// The store is the only shared mutable state in the chat core. It is owned
// by the server instance and guarded by a single mutex; callers never see
// internal maps. Each connection records its membership at join time so a
// disconnect resolves the room and real display name in O(1) instead of
// scanning every room.
package presence

import (
	"errors"
	"sync"
)

// ErrAlreadyJoined indicates a connection attempted a second concurrent
// join. Memberships are single-room per connection; clients must leave
// before joining another room.
var ErrAlreadyJoined = errors.New("connection already joined a room")

// Record is the membership carried by one live connection.
type Record struct {
	Room     string
	UserID   string
	Username string
}

// Store is a lock-guarded room membership table.
type Store struct {
	mu    sync.Mutex
	rooms map[string]map[string]string
	conns map[string]Record
}

// NewStore creates an empty membership table.
func NewStore() *Store {
	return &Store{
		rooms: make(map[string]map[string]string),
		conns: make(map[string]Record),
	}
}

// AddMember records userID in room under the given connection. Re-adding the
// same user to the same room overwrites the display name. A connection that
// already carries a membership is rejected with ErrAlreadyJoined.
func (s *Store) AddMember(connID, room, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, joined := s.conns[connID]; joined {
		return ErrAlreadyJoined
	}

	members, ok := s.rooms[room]
	if !ok {
		members = make(map[string]string)
		s.rooms[room] = members
	}
	members[userID] = username
	s.conns[connID] = Record{Room: room, UserID: userID, Username: username}
	return nil
}

// RemoveMember removes userID from room and returns the prior display name.
// The second result is false when no such membership existed; absence is a
// negative result, not an error. When the membership belongs to connID, the
// connection record is cleared so the connection may join again.
func (s *Store) RemoveMember(connID, room, userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[room]
	if !ok {
		return "", false
	}
	username, ok := members[userID]
	if !ok {
		return "", false
	}

	delete(members, userID)
	if len(members) == 0 {
		delete(s.rooms, room)
	}
	if rec, joined := s.conns[connID]; joined && rec.Room == room && rec.UserID == userID {
		delete(s.conns, connID)
	}
	return username, true
}

// RemoveByConnection removes whatever membership the connection carries and
// returns it. The second result is false when the connection never joined.
func (s *Store) RemoveByConnection(connID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conns[connID]
	if !ok {
		return Record{}, false
	}
	delete(s.conns, connID)

	if members, ok := s.rooms[rec.Room]; ok {
		delete(members, rec.UserID)
		if len(members) == 0 {
			delete(s.rooms, rec.Room)
		}
	}
	return rec, true
}

// Members returns a copy of the room's userID to display-name mapping.
func (s *Store) Members(room string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make(map[string]string, len(s.rooms[room]))
	for userID, username := range s.rooms[room] {
		members[userID] = username
	}
	return members
}
