package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatsync/core"
)

func TestStore_SetAndMessagesAreDefensiveCopies(t *testing.T) {
	st := New()
	msg := core.NewUserMessage("hello")
	in := []core.Message{msg}

	st.Set("conv-1", in)
	in[0].Content = "mutated after set"

	got, ok := st.Messages("conv-1")
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)

	got[0].Content = "mutated after get"
	again, _ := st.Messages("conv-1")
	assert.Equal(t, "hello", again[0].Content)
}

func TestStore_AppendCreatesProjection(t *testing.T) {
	st := New()
	assert.False(t, st.Has("conv-1"))

	st.Append("conv-1", core.NewUserMessage("hi"))
	assert.True(t, st.Has("conv-1"))

	got, ok := st.Messages("conv-1")
	require.True(t, ok)
	require.Len(t, got, 1)
}

func TestStore_UpdateMutatesSingleMessage(t *testing.T) {
	st := New()
	user := core.NewUserMessage("question")
	assistant := core.NewAssistantPlaceholder()
	st.Set("conv-1", []core.Message{user, assistant})

	ok := st.Update("conv-1", assistant.ID, func(m *core.Message) {
		m.Content = "partial answer"
	})
	require.True(t, ok)

	got, _ := st.Messages("conv-1")
	assert.Equal(t, "question", got[0].Content)
	assert.Equal(t, "partial answer", got[1].Content)

	assert.False(t, st.Update("conv-1", "missing-id", func(m *core.Message) {}))
	assert.False(t, st.Update("missing-conv", assistant.ID, func(m *core.Message) {}))
}

func TestStore_RemoveDropsStagedMessages(t *testing.T) {
	st := New()
	a := core.NewUserMessage("a")
	b := core.NewUserMessage("b")
	c := core.NewAssistantPlaceholder()
	st.Set("conv-1", []core.Message{a, b, c})

	st.Remove("conv-1", b.ID, c.ID)

	got, _ := st.Messages("conv-1")
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}

func TestStore_WatchNotifiesAndUnsubscribes(t *testing.T) {
	st := New()
	var seen []string
	stop := st.Watch(func(conversationID string) { seen = append(seen, conversationID) })

	st.Append("conv-1", core.NewUserMessage("x"))
	st.Append("conv-2", core.NewUserMessage("y"))
	require.Equal(t, []string{"conv-1", "conv-2"}, seen)

	stop()
	st.Append("conv-1", core.NewUserMessage("z"))
	assert.Len(t, seen, 2)
}

func TestStore_WatcherMayReadBack(t *testing.T) {
	st := New()
	var count int
	st.Watch(func(conversationID string) {
		// Reading from inside a watcher must not deadlock.
		_, _ = st.Messages(conversationID)
		count++
	})
	st.Append("conv-1", core.NewUserMessage("x"))
	assert.Equal(t, 1, count)
}
