package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/chatsync/core"
)

// GenerationSource answers whether a conversation currently has an active
// stream session. Satisfied by the stream registry.
type GenerationSource interface {
	IsGenerating(conversationID string) bool
}

// View binds "the conversation currently shown to the user" onto the store
// and onto registry state. Changing visibility never cancels any running
// session; it only changes which projection the UI subscribes to.
type View struct {
	store   *Store
	source  GenerationSource
	gateway core.ConversationGateway

	mu      sync.RWMutex
	visible string
}

// NewView constructs a view binding over the store, registry and gateway.
func NewView(st *Store, source GenerationSource, gateway core.ConversationGateway) *View {
	return &View{store: st, source: source, gateway: gateway}
}

// SetVisible switches the visible conversation and returns its message list.
// A conversation with an in-memory projection or an active session is served
// live (the durable snapshot is stale by definition while streaming); only a
// cold conversation is fetched through the gateway and seeded into the store.
// The lock is not held across the gateway read.
func (v *View) SetVisible(ctx context.Context, conversationID string) ([]core.Message, error) {
	v.mu.Lock()
	v.visible = conversationID
	v.mu.Unlock()

	if conversationID == "" {
		return nil, nil
	}

	if msgs, ok := v.store.Messages(conversationID); ok {
		return msgs, nil
	}
	if v.source != nil && v.source.IsGenerating(conversationID) {
		// Session registered but its projection not yet seeded; serve empty
		// live state rather than a stale durable copy.
		return nil, nil
	}

	conv, err := v.gateway.Read(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	// A session may have started while the read was in flight; its live
	// projection wins over the durable snapshot.
	if msgs, ok := v.store.Messages(conversationID); ok {
		return msgs, nil
	}
	v.store.Set(conversationID, conv.Messages)
	msgs, _ := v.store.Messages(conversationID)
	return msgs, nil
}

// Visible returns the currently visible conversation id.
func (v *View) Visible() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.visible
}

// Messages returns the visible conversation's current projection.
func (v *View) Messages() []core.Message {
	id := v.Visible()
	if id == "" {
		return nil
	}
	msgs, _ := v.store.Messages(id)
	return msgs
}

// IsGenerating reports whether the visible conversation has an active
// session, independent of sessions running for background conversations.
func (v *View) IsGenerating() bool {
	id := v.Visible()
	if id == "" || v.source == nil {
		return false
	}
	return v.source.IsGenerating(id)
}
