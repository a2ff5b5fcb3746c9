package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatsync/core"
	"github.com/hupe1980/chatsync/store"
)

func newRegistrySession(conversationID string) *Session {
	st := store.New()
	placeholder := core.NewAssistantPlaceholder()
	st.Set(conversationID, []core.Message{core.NewUserMessage("q"), placeholder})
	_, cancel := context.WithCancel(context.Background())
	return New(conversationID, placeholder.ID, cancel, st, nil)
}

func TestRegistry_RegisterCancelsPrior(t *testing.T) {
	reg := NewRegistry(nil)

	first := newRegistrySession("conv-1")
	second := newRegistrySession("conv-1")

	reg.Register(first)
	reg.Register(second)

	assert.Equal(t, StateCancelled, first.State(), "superseded session is cancelled")
	assert.Equal(t, StateConnecting, second.State())

	got, ok := reg.Lookup("conv-1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistry_DistinctConversationsCoexist(t *testing.T) {
	reg := NewRegistry(nil)

	a := newRegistrySession("conv-a")
	b := newRegistrySession("conv-b")
	reg.Register(a)
	reg.Register(b)

	assert.Equal(t, StateConnecting, a.State())
	assert.Equal(t, StateConnecting, b.State())
	assert.ElementsMatch(t, []string{"conv-a", "conv-b"}, reg.ActiveConversationIDs())
}

func TestRegistry_RemoveOnlyIfCurrent(t *testing.T) {
	reg := NewRegistry(nil)

	first := newRegistrySession("conv-1")
	second := newRegistrySession("conv-1")
	reg.Register(first)
	reg.Register(second)

	// The superseded session finalizing late must not evict its replacement.
	reg.Remove(first)
	got, ok := reg.Lookup("conv-1")
	require.True(t, ok)
	assert.Same(t, second, got)

	reg.Remove(second)
	_, ok = reg.Lookup("conv-1")
	assert.False(t, ok)
}

func TestRegistry_Cancel(t *testing.T) {
	reg := NewRegistry(nil)

	assert.ErrorIs(t, reg.Cancel("missing"), ErrSessionNotFound)

	sess := newRegistrySession("conv-1")
	reg.Register(sess)
	require.NoError(t, reg.Cancel("conv-1"))
	assert.Equal(t, StateCancelled, sess.State())
}

func TestRegistry_IsGenerating(t *testing.T) {
	reg := NewRegistry(nil)
	assert.False(t, reg.IsGenerating("conv-1"))

	sess := newRegistrySession("conv-1")
	reg.Register(sess)
	assert.True(t, reg.IsGenerating("conv-1"))

	reg.Remove(sess)
	assert.False(t, reg.IsGenerating("conv-1"))
}

func TestRegistry_AbandonAll(t *testing.T) {
	reg := NewRegistry(nil)

	a := newRegistrySession("conv-a")
	b := newRegistrySession("conv-b")
	reg.Register(a)
	reg.Register(b)

	reg.AbandonAll()

	assert.Empty(t, reg.ActiveConversationIDs())
	assert.Equal(t, StateCancelled, a.State())
	assert.Equal(t, StateCancelled, b.State())
}
