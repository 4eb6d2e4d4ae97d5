// Package session tracks active conversations: identity, idle expiry, and
// the one-loop-per-session serialization guarantee.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Session identifies one conversation. The id is an opaque string chosen
// by the caller (a chat transport typically reuses its own user or thread
// id).
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Store manages session lifecycle.
type Store interface {
	// GetOrCreate returns the session with the given id, creating it on
	// first use. created reports whether this call created it.
	GetOrCreate(ctx context.Context, id string) (sess *Session, created bool, err error)

	// Get retrieves an existing, unexpired session.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch updates the last-activity timestamp.
	Touch(ctx context.Context, id string) error

	// Delete removes a session (explicit reset).
	Delete(ctx context.Context, id string) error

	// Sweep removes idle-expired sessions and returns their ids.
	Sweep(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-memory session store with idle expiry.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
	now      func() time.Time
}

// NewMemoryStore creates an in-memory session store. idleTTL is the idle
// timeout after which a session is evicted; 0 means sessions never expire.
func NewMemoryStore(idleTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// GetOrCreate returns the session with the given id, creating it on first
// use. An expired session is replaced by a fresh one.
func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, bool, error) {
	if id == "" {
		return nil, false, fmt.Errorf("session id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && !s.expired(sess) {
		return sess.clone(), false, nil
	}

	now := s.now()
	sess := &Session{ID: id, CreatedAt: now, LastActive: now}
	s.sessions[id] = sess
	return sess.clone(), true, nil
}

// Get retrieves an existing session, evicting it if expired.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	if s.expired(sess) {
		delete(s.sessions, id)
		return nil, fmt.Errorf("session %q expired", id)
	}
	return sess.clone(), nil
}

// Touch updates the last-activity timestamp.
func (s *MemoryStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	sess.LastActive = s.now()
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sweep removes idle-expired sessions and returns their ids so the caller
// can evict the matching conversation memory.
func (s *MemoryStore) Sweep(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	return expired, nil
}

func (s *MemoryStore) expired(sess *Session) bool {
	return s.idleTTL > 0 && s.now().Sub(sess.LastActive) > s.idleTTL
}

func (sess *Session) clone() *Session {
	c := *sess
	return &c
}
