// Package store holds the observable in-memory projection of conversation
// message lists that the UI renders. The projection is independent of which
// conversation is visible: stream sessions write into their own conversation
// slot on every decoded event, so switching visibility back to a generating
// conversation always shows fully caught-up state.
package store

import (
	"sync"

	"github.com/hupe1980/chatsync/core"
)

// Store maps conversation ids to their ordered message lists. It is safe for
// concurrent access. Messages are deep-copied on the way in and out so the
// only writer of a streaming message remains its owning stream session.
type Store struct {
	mu            sync.RWMutex
	conversations map[string][]core.Message
	watchers      map[int]func(conversationID string)
	nextWatcherID int
}

// New constructs an empty conversation store.
func New() *Store {
	return &Store{
		conversations: make(map[string][]core.Message),
		watchers:      make(map[int]func(conversationID string)),
	}
}

// Has reports whether an in-memory projection exists for the conversation.
func (s *Store) Has(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[conversationID]
	return ok
}

// Set replaces the message list for a conversation with a deep copy.
func (s *Store) Set(conversationID string, messages []core.Message) {
	s.mu.Lock()
	s.conversations[conversationID] = cloneMessages(messages)
	s.mu.Unlock()
	s.notify(conversationID)
}

// Messages returns a deep copy of the conversation's message list.
func (s *Store) Messages(conversationID string) ([]core.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.conversations[conversationID]
	if !ok {
		return nil, false
	}
	return cloneMessages(msgs), true
}

// Append adds a message to the end of the conversation's list, creating the
// projection if it does not exist yet.
func (s *Store) Append(conversationID string, msg core.Message) {
	s.mu.Lock()
	s.conversations[conversationID] = append(s.conversations[conversationID], msg.Clone())
	s.mu.Unlock()
	s.notify(conversationID)
}

// Update mutates a single message in place via the provided function. It
// reports whether the message was found. Watchers are notified on success.
func (s *Store) Update(conversationID, messageID string, mutate func(m *core.Message)) bool {
	s.mu.Lock()
	msgs, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	found := false
	for i := range msgs {
		if msgs[i].ID == messageID {
			mutate(&msgs[i])
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.notify(conversationID)
	}
	return found
}

// Remove deletes the given messages from a conversation. Used to roll back
// optimistically staged messages when a turn is rejected before any session
// is registered.
func (s *Store) Remove(conversationID string, messageIDs ...string) {
	drop := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		drop[id] = true
	}
	s.mu.Lock()
	msgs, ok := s.conversations[conversationID]
	if ok {
		kept := msgs[:0]
		for _, m := range msgs {
			if !drop[m.ID] {
				kept = append(kept, m)
			}
		}
		s.conversations[conversationID] = kept
	}
	s.mu.Unlock()
	if ok {
		s.notify(conversationID)
	}
}

// Delete drops the whole projection for a conversation.
func (s *Store) Delete(conversationID string) {
	s.mu.Lock()
	delete(s.conversations, conversationID)
	s.mu.Unlock()
	s.notify(conversationID)
}

// Watch registers a callback invoked with the conversation id after every
// mutation. The returned function unregisters the watcher.
func (s *Store) Watch(fn func(conversationID string)) func() {
	s.mu.Lock()
	id := s.nextWatcherID
	s.nextWatcherID++
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// notify invokes watchers outside the store lock so a watcher may read back
// from the store without deadlocking.
func (s *Store) notify(conversationID string) {
	s.mu.RLock()
	fns := make([]func(string), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(conversationID)
	}
}

func cloneMessages(messages []core.Message) []core.Message {
	cp := make([]core.Message, len(messages))
	for i, m := range messages {
		cp[i] = m.Clone()
	}
	return cp
}
