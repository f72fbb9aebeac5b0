package channel

import (
	"errors"
	"fmt"
	"sync"

	"avaneesh/shotxfer/pkg/message"
)

// ErrNoSession is returned when no session is bound to a destination
var ErrNoSession = errors.New("no session for destination")

// Session is a local participant attached to a channel
type Session interface {
	// OnReceive is called with each envelope addressed to this session
	OnReceive(env *message.Envelope) error

	// PeerID returns the identifier envelopes are addressed to
	PeerID() string
}

// Router routes envelopes to the session registered for their destination.
// Several local participants may share one channel.
type Router struct {
	sessions map[string]Session // Key: peer ID
	mu       sync.RWMutex
}

// NewRouter creates a new router
func NewRouter() *Router {
	return &Router{
		sessions: make(map[string]Session),
	}
}

// AddSession adds a session to the router
func (r *Router) AddSession(session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := session.PeerID()
	if id == "" {
		return fmt.Errorf("session has empty peer ID")
	}

	// Check if ID is already in use
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("session with peer ID %s already exists", id)
	}

	r.sessions[id] = session
	return nil
}

// RemoveSession removes a session from the router
func (r *Router) RemoveSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// Route delivers an envelope to its destination session
func (r *Router) Route(env *message.Envelope) error {
	r.mu.RLock()
	session, exists := r.sessions[env.To]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNoSession, env.To)
	}

	// Deliver outside the lock so a session may add or remove sessions
	return session.OnReceive(env)
}

// GetSession returns a session by peer ID
func (r *Router) GetSession(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	return session, exists
}

// GetSessionCount returns the number of active sessions
func (r *Router) GetSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// Clear removes all sessions
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]Session)
}
