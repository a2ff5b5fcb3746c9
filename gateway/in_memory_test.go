package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatsync/core"
)

var _ core.ConversationGateway = (*InMemoryConversationGateway)(nil)

func TestInMemoryConversationGateway_CreateAndRead(t *testing.T) {
	g := NewInMemoryConversationGateway()

	conv, err := g.Create(context.Background(), "owner-1", "Explain the water cycle to me please")
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, "owner-1", conv.OwnerID)
	assert.NotEmpty(t, conv.Title)

	got, err := g.Read(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	_, err = g.Read(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}

func TestInMemoryConversationGateway_UpdateCopiesMessages(t *testing.T) {
	g := NewInMemoryConversationGateway()
	conv, err := g.Create(context.Background(), "owner-1", "seed")
	require.NoError(t, err)

	msg := core.NewUserMessage("hello")
	messages := []core.Message{msg}
	require.NoError(t, g.Update(context.Background(), conv.ID, messages))

	// Mutating the caller's slice must not reach the stored copy.
	messages[0].Content = "mutated"
	got, err := g.Read(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)

	assert.ErrorIs(t, g.Update(context.Background(), "missing", nil), core.ErrConversationNotFound)
}

func TestInMemoryConversationGateway_ListOrdersByRecency(t *testing.T) {
	g := NewInMemoryConversationGateway()

	older, err := g.Create(context.Background(), "owner-1", "older")
	require.NoError(t, err)
	newer, err := g.Create(context.Background(), "owner-1", "newer")
	require.NoError(t, err)
	_, err = g.Create(context.Background(), "owner-2", "other owner")
	require.NoError(t, err)

	// Touch the older conversation so it sorts first.
	time.Sleep(time.Millisecond)
	require.NoError(t, g.Update(context.Background(), older.ID, nil))

	summaries, err := g.List(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2, "listing is scoped to the owner")
	assert.Equal(t, older.ID, summaries[0].ID)
	assert.Equal(t, newer.ID, summaries[1].ID)
}

func TestInMemoryConversationGateway_Delete(t *testing.T) {
	g := NewInMemoryConversationGateway()
	conv, err := g.Create(context.Background(), "owner-1", "seed")
	require.NoError(t, err)

	require.NoError(t, g.Delete(context.Background(), conv.ID))
	_, err = g.Read(context.Background(), conv.ID)
	assert.ErrorIs(t, err, core.ErrConversationNotFound)

	assert.NoError(t, g.Delete(context.Background(), "missing"), "deleting an unknown id is a no-op")
}
