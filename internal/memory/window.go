package memory

import (
	"context"
	"sync"
)

// Window is an in-memory turn store with sliding-window retention.
type Window struct {
	mu       sync.Mutex
	maxTurns int
	sessions map[string][]Turn
}

// NewWindow creates an in-memory store retaining at most maxTurns turns
// per session.
func NewWindow(maxTurns int) *Window {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &Window{
		maxTurns: maxTurns,
		sessions: make(map[string][]Turn),
	}
}

// Append adds one turn to the session log, creating the session if absent,
// then applies the retention policy.
func (w *Window) Append(_ context.Context, sessionID string, turn Turn) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions[sessionID] = truncate(append(w.sessions[sessionID], turn), w.maxTurns)
	return nil
}

// Read returns a copy of the session's turns in insertion order. Unknown
// sessions yield an empty slice.
func (w *Window) Read(_ context.Context, sessionID string) ([]Turn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	turns := w.sessions[sessionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Evict discards the session's history.
func (w *Window) Evict(_ context.Context, sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, sessionID)
	return nil
}
