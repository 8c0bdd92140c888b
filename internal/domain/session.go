package domain

import (
	"sync"
	"time"
)

// AnonymousName is used when the profile lookup fails or has no entry.
const AnonymousName = "Anonymous"

// Session holds the verified identity and room membership of one
// connection. Exactly one room at a time; membership changes only through
// the connection lifecycle handlers.
type Session struct {
	ID           string
	UserID       string
	Username     string
	RoomID       string
	CreatedAt    time.Time
	LastActiveAt time.Time
	mu           sync.RWMutex
}

// NewSession creates a session for a connection that passed the handshake.
func NewSession(id, userID, username string) *Session {
	now := time.Now()
	if username == "" {
		username = AnonymousName
	}
	return &Session{
		ID:           id,
		UserID:       userID,
		Username:     username,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

func (s *Session) JoinRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RoomID = roomID
	s.LastActiveAt = time.Now()
}

func (s *Session) LeaveRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RoomID = ""
	s.LastActiveAt = time.Now()
}

func (s *Session) CurrentRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.RoomID
}

func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UserID
}

func (s *Session) GetUsername() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Username
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
