package session

import (
	"errors"
	"sync"
)

// ErrBusy is returned when a session already has a reasoning loop in
// flight. The second request is rejected, never interleaved.
var ErrBusy = errors.New("session busy: a query is already in flight")

// Locks serializes reasoning loops per session id: at most one in-flight
// loop per session, so turn history is never mutated concurrently.
type Locks struct {
	mu       sync.Mutex
	inFlight map[string]bool
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{inFlight: make(map[string]bool)}
}

// Acquire claims the session. It returns a release func on success, or
// ErrBusy if a loop is already in flight for this id.
func (l *Locks) Acquire(id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight[id] {
		return nil, ErrBusy
	}
	l.inFlight[id] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.inFlight, id)
			l.mu.Unlock()
		})
	}, nil
}
