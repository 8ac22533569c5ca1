package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"zippytrip.org/internal/obs"
)

// Storage keys shared with the browser console.
const (
	KeyAuthenticated = "isAuthenticated"
	KeyUser          = "user"

	authenticatedValue = "true"
)

// ErrInvalidSession is returned by Save for a session without user id or role.
var ErrInvalidSession = errors.New("session: user id and role are required")

// Store owns the single active session of a client.
type Store struct {
	storage Storage
	// mu orders writes from this process; last write wins.
	mu sync.Mutex
}

func NewStore(storage Storage) *Store {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &Store{storage: storage}
}

// Restore returns the persisted session. Missing, partial or corrupt state
// reads as no session.
func (s *Store) Restore(ctx context.Context) (Session, bool) {
	values, err := s.storage.Get(ctx, KeyAuthenticated, KeyUser)
	if err != nil {
		obs.Warn("session restore failed", map[string]any{"error": err.Error()})
		return Session{}, false
	}
	if values[KeyAuthenticated] != authenticatedValue {
		return Session{}, false
	}
	raw, ok := values[KeyUser]
	if !ok || raw == "" {
		return Session{}, false
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		obs.Warn("stored session is corrupt", map[string]any{"error": err.Error()})
		return Session{}, false
	}
	if !sess.Valid() {
		return Session{}, false
	}
	return sess, true
}

// Save replaces any prior session with sess.Canonical(). Both keys are
// written in one Storage.Set.
func (s *Store) Save(ctx context.Context, sess Session) error {
	sess = sess.Canonical()
	if !sess.Valid() {
		return ErrInvalidSession
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.Set(ctx, map[string]string{
		KeyAuthenticated: authenticatedValue,
		KeyUser:          string(data),
	})
}

// Clear removes the session. Clearing an empty store is not an error.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// flag first: a reader racing a partial delete sees "signed out"
	if err := s.storage.Delete(ctx, KeyAuthenticated); err != nil {
		return err
	}
	return s.storage.Delete(ctx, KeyUser)
}
