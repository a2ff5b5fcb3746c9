package stream

import (
	"fmt"
	"sync"

	"github.com/hupe1980/chatsync/logging"
)

// ErrSessionNotFound is returned when no active session exists for a
// conversation id.
var ErrSessionNotFound = fmt.Errorf("no active session for conversation")

// Registry owns the set of currently active sessions keyed by conversation
// id and enforces the at-most-one-active-session-per-conversation invariant:
// registering a session cancels any prior session for the same conversation
// before replacing it. Removing a session on any terminal transition is
// mandatory; a leaked entry would permanently block new turns on its
// conversation.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Registry{sessions: make(map[string]*Session), logger: logger}
}

// Register installs the session as the active one for its conversation,
// cancelling exactly one prior session if present.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	prior := r.sessions[s.ConversationID()]
	r.sessions[s.ConversationID()] = s
	r.mu.Unlock()

	if prior != nil {
		r.logger.Debug("cancelling superseded session", "conversation_id", s.ConversationID())
		prior.Cancel()
	}
}

// Lookup returns the active session for a conversation, if any.
func (r *Registry) Lookup(conversationID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[conversationID]
	return s, ok
}

// Cancel aborts the active session for a conversation. The session finalizes
// through its normal run loop and removes itself.
func (r *Registry) Cancel(conversationID string) error {
	r.mu.RLock()
	s, ok := r.sessions[conversationID]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Cancel()
	return nil
}

// Remove drops the session from the registry if it is still the current
// entry for its conversation. A superseded session must not evict its
// replacement.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.ConversationID()] == s {
		delete(r.sessions, s.ConversationID())
	}
}

// IsGenerating reports whether a conversation has an active session.
func (r *Registry) IsGenerating(conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[conversationID]
	return ok
}

// ActiveConversationIDs returns a snapshot of all conversation ids with an
// active session.
func (r *Registry) ActiveConversationIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// AbandonAll cancels every active session without finalizing, releasing
// network resources. Only used when the engine's host is torn down entirely.
func (r *Registry) AbandonAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Abandon()
	}
}
