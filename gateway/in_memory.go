package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/chatsync/core"
)

// InMemoryConversationGateway is a volatile ConversationGateway storing
// conversations in a process local map. It is safe for concurrent access and
// best suited for tests or ephemeral demo clients. Message lists are copied
// on the way in and out to prevent external mutation of internal state.
type InMemoryConversationGateway struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
}

// NewInMemoryConversationGateway constructs an empty in-memory gateway.
func NewInMemoryConversationGateway() *InMemoryConversationGateway {
	return &InMemoryConversationGateway{conversations: make(map[string]*core.Conversation)}
}

// Create stores a new conversation titled from the seed text.
func (g *InMemoryConversationGateway) Create(_ context.Context, ownerID, seedText string) (*core.Conversation, error) {
	conv := core.NewConversation(ownerID, seedText)
	g.mu.Lock()
	g.conversations[conv.ID] = conv
	g.mu.Unlock()
	cp := *conv
	return &cp, nil
}

// Update replaces the conversation's message list with a deep copy.
func (g *InMemoryConversationGateway) Update(_ context.Context, conversationID string, messages []core.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	conv, ok := g.conversations[conversationID]
	if !ok {
		return core.ErrConversationNotFound
	}
	cp := make([]core.Message, len(messages))
	for i, m := range messages {
		cp[i] = m.Clone()
	}
	conv.Messages = cp
	conv.Updated = time.Now().UTC()
	return nil
}

// Read returns a copy of the stored conversation or ErrConversationNotFound.
func (g *InMemoryConversationGateway) Read(_ context.Context, conversationID string) (*core.Conversation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conv, ok := g.conversations[conversationID]
	if !ok {
		return nil, core.ErrConversationNotFound
	}
	cp := *conv
	cp.Messages = conv.CloneMessages()
	return &cp, nil
}

// List returns the owner's conversation summaries, most recently updated first.
func (g *InMemoryConversationGateway) List(_ context.Context, ownerID string) ([]core.ConversationSummary, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	summaries := make([]core.ConversationSummary, 0, len(g.conversations))
	for _, conv := range g.conversations {
		if conv.OwnerID != ownerID {
			continue
		}
		summaries = append(summaries, core.ConversationSummary{ID: conv.ID, Title: conv.Title, Updated: conv.Updated})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Updated.After(summaries[j].Updated) })
	return summaries, nil
}

// Delete removes the conversation. Deleting an unknown id is a no-op.
func (g *InMemoryConversationGateway) Delete(_ context.Context, conversationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conversations, conversationID)
	return nil
}
