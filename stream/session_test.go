package stream

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatsync/core"
	"github.com/hupe1980/chatsync/internal/testutil"
	"github.com/hupe1980/chatsync/store"
)

const (
	eventuallyTimeout = 2 * time.Second
	eventuallyTick    = 5 * time.Millisecond
)

// finalizeRecorder captures finalization calls for assertions.
type finalizeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	messages [][]core.Message
}

func (r *finalizeRecorder) fn() FinalizeFunc {
	return func(outcome Outcome, conversationID string, messages []core.Message) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.outcomes = append(r.outcomes, outcome)
		r.messages = append(r.messages, messages)
	}
}

func (r *finalizeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

// newTestSession stages a user message plus assistant placeholder and binds
// a session to the placeholder, mirroring the submission protocol.
func newTestSession(t *testing.T) (*Session, *store.Store, core.Message) {
	t.Helper()
	st := store.New()
	user := core.NewUserMessage("What is photosynthesis?")
	placeholder := core.NewAssistantPlaceholder()
	st.Set("conv-1", []core.Message{user, placeholder})

	_, cancel := context.WithCancel(context.Background())
	sess := New("conv-1", placeholder.ID, cancel, st, nil)
	return sess, st, placeholder
}

func assistant(t *testing.T, st *store.Store, id string) core.Message {
	t.Helper()
	msgs, ok := st.Messages("conv-1")
	require.True(t, ok)
	for _, m := range msgs {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("assistant message %s not found", id)
	return core.Message{}
}

func TestSession_CompleteTurn(t *testing.T) {
	sess, st, placeholder := newTestSession(t)
	rec := &finalizeRecorder{}

	zero, one := 0, 1
	body := testutil.NewStreamBuilder().
		Session("sess-1").
		Status("Searching the web...", 2, "searching", true).
		Search(core.SearchEntry{Query: "photosynthesis overview", Iteration: 0, QueryIndex: &zero, Status: core.SearchStatusSearching}).
		Search(core.SearchEntry{Query: "photosynthesis stages", Iteration: 0, QueryIndex: &one, Status: core.SearchStatusSearching}).
		Content("Photo").
		Content("synthesis is...").
		Done(nil, "raw context").
		Reader()

	sess.Run(body, rec.fn())

	require.Equal(t, 1, rec.count(), "exactly one finalization per turn")
	assert.Equal(t, OutcomeCompleted, rec.outcomes[0])
	assert.Equal(t, StateTerminated, sess.State())
	assert.Equal(t, "sess-1", sess.SessionID())

	final := assistant(t, st, placeholder.ID)
	assert.Equal(t, "Photosynthesis is...", final.Content)
	assert.False(t, final.IsStreaming)
	assert.Nil(t, final.CurrentStatus)
	require.Len(t, final.SearchHistory, 2)
	assert.Equal(t, "raw context", final.RawSearchData)
}

func TestSession_StatusThenContentClearsStatus(t *testing.T) {
	sess, st, placeholder := newTestSession(t)

	body := testutil.NewStreamBuilder().
		Status("Thinking...", 1, "thinking", false).
		Content("Answer").
		Done(nil, "").
		Reader()

	// Observe the intermediate states through the store watcher.
	var sawStatus bool
	st.Watch(func(string) {
		m := assistant(t, st, placeholder.ID)
		if m.CurrentStatus != nil && m.CurrentStatus.Message == "Thinking..." {
			sawStatus = true
		}
	})

	sess.Run(body, nil)

	assert.True(t, sawStatus, "ephemeral status must be mirrored while streaming")
	final := assistant(t, st, placeholder.ID)
	assert.Nil(t, final.CurrentStatus, "content arrival clears the status")
	assert.Equal(t, "Answer", final.Content)
}

func TestSession_ChunkingInvariance(t *testing.T) {
	build := func() *testutil.StreamBuilder {
		return testutil.NewStreamBuilder().
			Content("Photo").
			Content("synthesis is...").
			Done(nil, "")
	}

	for _, size := range []int{1, 3, 8, 64} {
		sess, st, placeholder := newTestSession(t)
		sess.Run(build().ChunkedReader(size), nil)
		final := assistant(t, st, placeholder.ID)
		assert.Equal(t, "Photosynthesis is...", final.Content, "chunk size %d", size)
	}
}

func TestSession_SearchUpsertPreservesPreview(t *testing.T) {
	sess, st, placeholder := newTestSession(t)

	zero := 0
	body := testutil.NewStreamBuilder().
		Search(core.SearchEntry{Query: "q", Iteration: 0, QueryIndex: &zero, Status: core.SearchStatusSearching, TextPreview: "early preview"}).
		Search(core.SearchEntry{Query: "q", Iteration: 0, QueryIndex: &zero, Status: core.SearchStatusComplete, Sources: []core.Source{{URL: "https://example.com"}}}).
		Done(nil, "").
		Reader()

	sess.Run(body, nil)

	final := assistant(t, st, placeholder.ID)
	require.Len(t, final.SearchHistory, 1, "upserts must never duplicate an entry")
	entry := final.SearchHistory[0]
	assert.Equal(t, core.SearchStatusComplete, entry.Status)
	require.Len(t, entry.Sources, 1)
	assert.Equal(t, "early preview", entry.TextPreview, "a later upsert without preview keeps the earlier one")
}

func TestSession_ServerHistoryTakesPrecedence(t *testing.T) {
	sess, st, placeholder := newTestSession(t)

	body := testutil.NewStreamBuilder().
		Search(core.SearchEntry{Query: "local entry", Iteration: 0, Status: core.SearchStatusSearching}).
		Done([]core.SearchEntry{
			{Query: "server entry a", Iteration: 0, Status: core.SearchStatusComplete},
			{Query: "server entry b", Iteration: 1, Status: core.SearchStatusComplete},
		}, "").
		Reader()

	sess.Run(body, nil)

	final := assistant(t, st, placeholder.ID)
	require.Len(t, final.SearchHistory, 2)
	assert.Equal(t, "server entry a", final.SearchHistory[0].Query)
}

func TestSession_StreamEndWithoutDone(t *testing.T) {
	t.Run("with content keeps partial text", func(t *testing.T) {
		sess, st, placeholder := newTestSession(t)
		rec := &finalizeRecorder{}

		body := testutil.NewStreamBuilder().
			Content("Photo").
			Content("synthesis is...").
			Reader() // no done frame

		sess.Run(body, rec.fn())

		require.Equal(t, 1, rec.count(), "forced completion still finalizes exactly once")
		assert.Equal(t, OutcomeInterrupted, rec.outcomes[0])
		final := assistant(t, st, placeholder.ID)
		assert.Equal(t, "Photosynthesis is...", final.Content, "no annotation when content is non-empty")
		assert.False(t, final.IsStreaming)
	})

	t.Run("search history but no content gets a note", func(t *testing.T) {
		sess, st, placeholder := newTestSession(t)

		body := testutil.NewStreamBuilder().
			Search(core.SearchEntry{Query: "q", Iteration: 0, Status: core.SearchStatusComplete}).
			Reader()

		sess.Run(body, nil)

		final := assistant(t, st, placeholder.ID)
		assert.Equal(t, interruptedNote, final.Content)
		require.Len(t, final.SearchHistory, 1)
	})

	t.Run("nothing accumulated stays empty", func(t *testing.T) {
		sess, st, placeholder := newTestSession(t)
		sess.Run(testutil.NewStreamBuilder().Reader(), nil)

		final := assistant(t, st, placeholder.ID)
		assert.Empty(t, final.Content)
		assert.False(t, final.IsStreaming)
	})
}

func TestSession_ErrorEventSubstitutesGenericMessage(t *testing.T) {
	sess, st, placeholder := newTestSession(t)
	rec := &finalizeRecorder{}

	body := testutil.NewStreamBuilder().
		Content("partial before the crash").
		Error("TypeError: cannot read properties of undefined").
		Reader()

	sess.Run(body, rec.fn())

	require.Equal(t, 1, rec.count())
	assert.Equal(t, OutcomeErrored, rec.outcomes[0])

	final := assistant(t, st, placeholder.ID)
	assert.Equal(t, genericErrorMessage, final.Content, "raw backend errors never reach the conversation")
	assert.False(t, final.IsStreaming)
}

func TestSession_CancelDiscardsSilently(t *testing.T) {
	st := store.New()
	placeholder := core.NewAssistantPlaceholder()
	st.Set("conv-1", []core.Message{core.NewUserMessage("q"), placeholder})

	ctx, cancel := context.WithCancel(context.Background())
	sess := New("conv-1", placeholder.ID, cancel, st, nil)
	rec := &finalizeRecorder{}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(pr, rec.fn())
	}()

	_, err := pw.Write(testutil.NewStreamBuilder().Content("partial ").Bytes())
	require.NoError(t, err)

	sess.Cancel()

	// The placeholder must be frozen the moment Cancel returns, before the
	// read loop has observed the teardown.
	frozen := assistant(t, st, placeholder.ID)
	assert.False(t, frozen.IsStreaming)
	assert.Nil(t, frozen.CurrentStatus)

	// The abort tears down the transport; emulate the closed connection.
	pw.CloseWithError(ctx.Err())
	<-done

	require.Equal(t, 1, rec.count(), "a cancelled turn still finalizes exactly once")
	assert.Equal(t, OutcomeCancelled, rec.outcomes[0])

	final := assistant(t, st, placeholder.ID)
	assert.NotEqual(t, genericErrorMessage, final.Content, "cancellation must not substitute an error message")
	assert.False(t, final.IsStreaming)
}

func TestSession_CancelStopsEventApplication(t *testing.T) {
	sess, st, placeholder := newTestSession(t)

	pr, pw := io.Pipe()
	applied := make(chan struct{})
	st.Watch(func(string) {
		select {
		case applied <- struct{}{}:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(pr, nil)
	}()

	_, err := pw.Write(testutil.NewStreamBuilder().Content("before").Bytes())
	require.NoError(t, err)
	<-applied

	sess.Cancel()

	// Events written after cancellation must be dropped even if the stream
	// delivers them before the read loop observes the closed connection.
	_, err = pw.Write(testutil.NewStreamBuilder().Content(" after").Bytes())
	require.NoError(t, err)
	pw.Close()
	<-done

	final := assistant(t, st, placeholder.ID)
	assert.Equal(t, "before", final.Content)
}

func TestSession_AbandonSkipsFinalization(t *testing.T) {
	sess, st, placeholder := newTestSession(t)
	rec := &finalizeRecorder{}

	sess.Abandon()
	sess.Run(testutil.NewStreamBuilder().Content("x").Reader(), rec.fn())

	assert.Equal(t, 0, rec.count(), "abandoned sessions never finalize")
	assert.Equal(t, StateTerminated, sess.State())

	// The store keeps whatever was mirrored before teardown; here nothing.
	final := assistant(t, st, placeholder.ID)
	assert.True(t, final.IsStreaming, "abandon leaves the placeholder untouched")
}

func TestSession_RawSearchDataCappedAtFinalization(t *testing.T) {
	sess, st, placeholder := newTestSession(t)

	big := make([]byte, core.MaxRawSearchDataBytes+512)
	for i := range big {
		big[i] = 'z'
	}
	body := testutil.NewStreamBuilder().
		Content("answer").
		Done(nil, string(big)).
		Reader()

	sess.Run(body, nil)

	final := assistant(t, st, placeholder.ID)
	assert.Len(t, final.RawSearchData, core.MaxRawSearchDataBytes)
}

func TestSession_CanSkipTracksLastStatus(t *testing.T) {
	sess, _, _ := newTestSession(t)

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(pr, nil)
	}()

	_, err := pw.Write(testutil.NewStreamBuilder().Session("sess-9").Status("Searching...", 2, "searching", true).Bytes())
	require.NoError(t, err)

	require.Eventually(t, sess.CanSkip, eventuallyTimeout, eventuallyTick)
	assert.Equal(t, "sess-9", sess.SessionID())

	_, err = pw.Write(testutil.NewStreamBuilder().Status("Generating response...", 4, "generating", false).Bytes())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !sess.CanSkip() }, eventuallyTimeout, eventuallyTick)

	pw.Close()
	<-done
	assert.False(t, sess.CanSkip(), "terminated sessions are never skippable")
}
