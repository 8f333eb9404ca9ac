// Package registry tracks currently open streaming sessions and routes
// inbound protocol messages to the correct one.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/oklog/ulid/v2"

	"github.com/kelnishi/mcp-poptoggle/internal/logging"
)

// ErrNoActiveSession is returned when a message cannot be routed because no
// session is open.
var ErrNoActiveSession = errors.New("no active session")

// notificationBuffer bounds how many undelivered notifications a session may
// queue before broadcasts start dropping for it.
const notificationBuffer = 32

// Registry owns the set of currently open sessions. All state lives behind
// the mutex; there are no package-level maps.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register creates and stores a new session. ULID identities are
// collision-free among live sessions.
func (r *Registry) Register() *Session {
	s := &Session{
		id:            ulid.Make().String(),
		created:       time.Now(),
		notifications: make(chan mcp.JSONRPCNotification, notificationBuffer),
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	logging.Debug().Str("sessionId", s.id).Msg("session registered")
	return s
}

// Deregister removes the session with the given id. Removing an unknown or
// already-removed id is a no-op.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		logging.Debug().Str("sessionId", id).Msg("session deregistered")
	}
}

// Len returns the number of currently open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Route resolves the target session for a message. Candidates are tried in
// order; the first non-empty one wins, whether or not it names a live
// session (an unknown explicit id is not silently redirected). When no
// candidate is present: zero open sessions fails with ErrNoActiveSession,
// otherwise an arbitrary open session is chosen (the first one enumerated).
// That fallback is a single-client convenience, not a guarantee under
// concurrency.
func (r *Registry) Route(candidates ...string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range candidates {
		if id == "" {
			continue
		}
		s, ok := r.sessions[id]
		if !ok {
			return nil, ErrNoActiveSession
		}
		return s, nil
	}

	if len(r.sessions) == 0 {
		return nil, ErrNoActiveSession
	}
	for _, s := range r.sessions {
		logging.Debug().Str("sessionId", s.id).
			Msg("no session id on message, falling back to arbitrary open session")
		return s, nil
	}
	return nil, ErrNoActiveSession
}

// Broadcast queues a notification on every currently open session. Sessions
// with a full queue are skipped rather than blocking the caller.
func (r *Registry) Broadcast(n mcp.JSONRPCNotification) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		select {
		case s.notifications <- n:
		default:
			logging.Warn().Str("sessionId", s.id).Str("method", n.Method).
				Msg("notification dropped: session queue full")
		}
	}
}
