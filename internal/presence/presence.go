// Package presence maintains the roster of users connected to the
// active room.
//
// Entries are keyed by user id and survive disconnects: going offline
// flips the Online flag instead of deleting the entry, so offline
// history and roster ordering stay stable for the rendering layer.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/coderoom-dev/roomsync/pkg/types"
)

// Store holds the presence roster for one room.
type Store struct {
	mu    sync.RWMutex
	users map[string]types.PresenceUser
	now   func() time.Time
}

// NewStore creates an empty roster.
func NewStore() *Store {
	return &Store{
		users: make(map[string]types.PresenceUser),
		now:   time.Now,
	}
}

// SetSnapshot replaces the roster wholesale. Every user in a snapshot
// is online by definition; a missing lastSeen defaults to now.
func (s *Store) SetSnapshot(users []types.PresenceUser) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]types.PresenceUser, len(users))
	for _, user := range users {
		if user.UserID == "" {
			continue
		}
		user.Online = true
		if user.LastSeen == 0 {
			user.LastSeen = s.now().UnixMilli()
		}
		next[user.UserID] = user
	}
	s.users = next
}

// UpsertUser merges a user event into the roster, forcing the entry
// online and refreshing lastSeen. The cursor field is part of the
// merged payload and may legitimately be nil.
func (s *Store) UpsertUser(user types.PresenceUser) {
	if user.UserID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Online = true
	user.LastSeen = s.now().UnixMilli()
	s.users[user.UserID] = user
}

// MarkOffline flips a user offline and refreshes lastSeen. The entry
// is retained.
func (s *Store) MarkOffline(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return
	}
	user.Online = false
	user.LastSeen = s.now().UnixMilli()
	s.users[userID] = user
}

// Clear drops the roster. Called on room leave.
func (s *Store) Clear() {
	s.mu.Lock()
	s.users = make(map[string]types.PresenceUser)
	s.mu.Unlock()
}

// Get returns one roster entry.
func (s *Store) Get(userID string) (types.PresenceUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	return user, ok
}

// Len returns the roster size, online or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Users returns the roster sorted online-first, then by name.
func (s *Store) Users() []types.PresenceUser {
	s.mu.RLock()
	out := make([]types.PresenceUser, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		return out[i].Name < out[j].Name
	})
	return out
}
