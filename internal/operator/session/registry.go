package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"gesture-bridge/internal/logger"
)

// Registry keys live sessions by id. It replaces any notion of a
// "current session" singleton: components that need lookup get the
// registry by reference and use explicit add/get/remove.
type Registry struct {
	log *logrus.Entry

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		log:      logger.Logger.WithField("operator", "registry"),
		sessions: make(map[string]*Session),
	}
}

// Add registers a session under its id.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	r.log.WithField("session", s.ID).Info("Session registered")
}

// Get returns the session for id, if present.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove releases id. Removing an unknown id is a no-op so session
// close stays idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		r.log.WithField("session", id).Info("Session released")
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// CloseAll closes every live session; used at shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.List() {
		s.Close()
	}
}
