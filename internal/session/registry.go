package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry is the process-wide session store. The outer map is safe for
// concurrent insert and lookup; a per-session mutex serializes phase
// advancement so two concurrent messages to the same session never
// interleave. Reads go through the session's own lock and do not wait
// for an in-flight phase advancement.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	eventBuffer int
	logger      *zap.Logger
}

type entry struct {
	mu      sync.Mutex
	session *Session
}

// NewRegistry creates an empty registry. eventBuffer sizes each session's
// event stream subscriber buffers.
func NewRegistry(eventBuffer int, logger *zap.Logger) *Registry {
	return &Registry{
		entries:     make(map[string]*entry),
		eventBuffer: eventBuffer,
		logger:      logger,
	}
}

// Create registers a new session and returns it.
func (r *Registry) Create() *Session {
	s := newSession(r.eventBuffer)
	r.mu.Lock()
	r.entries[s.ID] = &entry{session: s}
	r.mu.Unlock()
	r.logger.Info("session created", zap.String("session_id", s.ID))
	return s
}

// lookup fetches the entry for a session id.
func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Update runs fn with exclusive access to the session, failing fast with
// ErrSessionBusy when another operation holds the session. Phase-advancing
// operations (messages, approvals) use this so a second concurrent request
// is rejected rather than interleaved.
func (r *Registry) Update(id string, fn func(*Session) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	if !e.mu.TryLock() {
		return ErrSessionBusy
	}
	defer e.mu.Unlock()
	return fn(e.session)
}

// View runs fn with shared read access to the session. Read-style
// operations (status, history, result) use this; they observe the
// session's current state immediately, even while a phase-advancing
// operation is executing, rather than queueing behind it.
func (r *Registry) View(id string, fn func(*Session) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.session.mu.RLock()
	defer e.session.mu.RUnlock()
	return fn(e.session)
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// EvictIdle removes sessions whose last activity is older than maxIdle.
// Terminal sessions are evicted on the same schedule; a session mid-flight
// keeps itself alive by touching its activity timestamp. Evicted streams
// are closed so attached consumers see end-of-stream.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, e := range r.entries {
		if !e.mu.TryLock() {
			continue // operation in flight
		}
		idle := e.session.LastActivityAt.Before(cutoff)
		if idle {
			e.session.Stream.Close()
			delete(r.entries, id)
			evicted++
		}
		e.mu.Unlock()
	}
	if evicted > 0 {
		r.logger.Info("evicted idle sessions", zap.Int("count", evicted))
	}
	return evicted
}
