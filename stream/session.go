// Package stream implements the per-turn stream session state machine and
// the registry that enforces at most one active session per conversation.
//
// A session owns the accumulator for one turn: content text, search history,
// the ephemeral status and the live preview. The accumulator is authoritative
// over the corresponding assistant message until finalization; the session
// mirrors it into the conversation store on every decoded event so a
// conversation switched away from and back shows fully caught-up state.
package stream

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/hupe1980/chatsync/core"
	"github.com/hupe1980/chatsync/logging"
	"github.com/hupe1980/chatsync/store"
	"github.com/hupe1980/chatsync/wire"
)

// State tracks a session through its lifecycle. Any UI boolean (generating,
// cancellable, skip-allowed) derives from this enum, never from parallel flags.
type State int

const (
	// StateIdle is the zero value before the request is issued.
	StateIdle State = iota
	// StateConnecting means the request was issued with quota already reserved.
	StateConnecting
	// StateActive means decoded events are being applied to the accumulator.
	StateActive
	// StateFinalizing means the turn completed (explicitly or forced) and the
	// materialized message list is being written through the gateway.
	StateFinalizing
	// StateErrored means the backend reported a terminal error event or the
	// request failed outright.
	StateErrored
	// StateCancelled means the session was superseded by a newer turn on the
	// same conversation.
	StateCancelled
	// StateTerminated is the single terminal state.
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Outcome classifies how a turn reached finalization.
type Outcome int

const (
	// OutcomeCompleted means an explicit done event was received.
	OutcomeCompleted Outcome = iota
	// OutcomeInterrupted means the stream ended without a terminal event.
	OutcomeInterrupted
	// OutcomeErrored means the backend emitted an error event or the request failed.
	OutcomeErrored
	// OutcomeCancelled means the session was superseded by a newer turn.
	OutcomeCancelled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeErrored:
		return "errored"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FinalizeFunc receives the single authoritative finalization of a turn: the
// outcome and the fully materialized message list for the session's
// conversation. It is invoked exactly once per session, on every terminal
// path, and never for abandoned sessions.
type FinalizeFunc func(outcome Outcome, conversationID string, messages []core.Message)

// User-safe substitutions; raw transport and backend errors are logged only.
const (
	genericErrorMessage = "Sorry, something went wrong while generating this response. Please try again."
	interruptedNote     = "The response was interrupted before any content arrived. The collected search results are shown above."
)

// Session is the live, cancellable process handling exactly one turn. All
// mutable accumulator state is owned by the session; the UI only ever reads
// the store projection the session mirrors into.
type Session struct {
	conversationID string
	messageID      string
	cancel         context.CancelFunc
	st             *store.Store
	logger         logging.Logger
	done           chan struct{}

	mu         sync.Mutex
	state      State
	sessionID  string
	content    strings.Builder
	history    []core.SearchEntry
	historyIdx map[core.SearchKey]int
	preview    string
	status     *core.Status
	rawSearch  string
	serverHist []core.SearchEntry
	hasServer  bool
	abandoned  bool
	finalized  bool
}

// New creates a session bound to a conversation and the assistant placeholder
// message it writes into. cancel aborts the underlying request; it is owned
// by the session from here on.
func New(conversationID, messageID string, cancel context.CancelFunc, st *store.Store, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Session{
		conversationID: conversationID,
		messageID:      messageID,
		cancel:         cancel,
		st:             st,
		logger:         logger,
		done:           make(chan struct{}),
		state:          StateConnecting,
		historyIdx:     make(map[core.SearchKey]int),
	}
}

// ConversationID returns the conversation this session is bound to.
func (s *Session) ConversationID() string { return s.conversationID }

// MessageID returns the id of the assistant placeholder being written into.
func (s *Session) MessageID() string { return s.messageID }

// SessionID returns the backend correlation id, empty until the session
// event arrives.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CanSkip reports whether the last status event allowed short-circuiting the
// remaining search work. Only meaningful while the session is active.
func (s *Session) CanSkip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive && s.status != nil && s.status.CanSkip
}

// Preview returns the session-level live text preview. Cosmetic only.
func (s *Session) Preview() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// Done is closed once the session reached its terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cancel aborts the underlying request because a newer turn superseded this
// session. The placeholder is frozen immediately: a conversation must never
// hold two streaming messages, and the read loop may not observe the
// transport teardown before the next turn stages its own placeholder. The
// run loop still finalizes with whatever was accumulated; no error message
// is substituted into the conversation.
func (s *Session) Cancel() {
	s.mu.Lock()
	transitioned := s.state != StateTerminated && s.state != StateCancelled
	if transitioned {
		s.state = StateCancelled
	}
	s.mu.Unlock()

	if transitioned {
		s.mirror(func(m *core.Message) {
			m.IsStreaming = false
			m.CurrentStatus = nil
		})
	}
	s.cancel()
}

// Abandon aborts the request without finalizing. Used only on host teardown,
// where in-flight turns are deliberately dropped to release resources.
func (s *Session) Abandon() {
	s.mu.Lock()
	s.abandoned = true
	if s.state != StateTerminated {
		s.state = StateCancelled
	}
	s.mu.Unlock()
	s.cancel()
}

// Run consumes the event stream until a terminal event, the end of the byte
// stream, or cancellation, then finalizes exactly once. A stream that ends
// without a done event is not an error: it takes the same finalization path
// using whatever was accumulated.
func (s *Session) Run(body io.ReadCloser, finalize FinalizeFunc) {
	defer body.Close()

	s.mu.Lock()
	if s.state == StateCancelled || s.abandoned {
		s.mu.Unlock()
		s.finalizeOnce(OutcomeCancelled, finalize)
		return
	}
	s.state = StateActive
	s.mu.Unlock()

	dec := wire.NewDecoder(body, s.logger)
	for {
		ev, err := dec.Next()
		if ev != nil {
			if outcome, terminal := s.apply(ev); terminal {
				s.finalizeOnce(outcome, finalize)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("stream read ended", "conversation_id", s.conversationID, "error", err)
			}
			break
		}
	}

	// Reader loop ended without a terminal event. Cancelled sessions keep
	// their accumulated state silently; anything else is forced completion.
	s.mu.Lock()
	cancelled := s.state == StateCancelled
	s.mu.Unlock()
	if cancelled {
		s.finalizeOnce(OutcomeCancelled, finalize)
		return
	}
	s.finalizeOnce(OutcomeInterrupted, finalize)
}

// Fail finalizes the session for a request that never produced a stream
// (connection refused, handshake error). The conversation receives the
// generic safe message.
func (s *Session) Fail(err error, finalize FinalizeFunc) {
	s.logger.Error("turn request failed", "conversation_id", s.conversationID, "error", err)
	s.finalizeOnce(OutcomeErrored, finalize)
}

// apply mutates the accumulator for one decoded event and mirrors the result
// into the store. It reports whether the event was terminal.
func (s *Session) apply(ev wire.Event) (Outcome, bool) {
	s.mu.Lock()
	if s.state != StateActive {
		// Cancelled or already terminal; drop further events.
		s.mu.Unlock()
		return 0, false
	}

	switch e := ev.(type) {
	case wire.SessionEvent:
		s.sessionID = e.SessionID
		s.mu.Unlock()

	case wire.StatusEvent:
		st := e.Status
		s.status = &st
		s.mu.Unlock()
		s.mirror(func(m *core.Message) {
			cp := st
			m.CurrentStatus = &cp
		})

	case wire.SearchEvent:
		s.upsertSearch(e.Entry)
		history := cloneHistory(s.history)
		s.mu.Unlock()
		s.mirror(func(m *core.Message) { m.SearchHistory = history })

	case wire.TextPreviewEvent:
		s.preview = e.Text
		s.mu.Unlock()

	case wire.ContentEvent:
		s.content.WriteString(e.Delta)
		// Content arriving implies processing is past the status phase.
		s.status = nil
		content := s.content.String()
		s.mu.Unlock()
		s.mirror(func(m *core.Message) {
			m.Content = content
			m.CurrentStatus = nil
		})

	case wire.DoneEvent:
		if len(e.SearchHistory) > 0 {
			s.serverHist = cloneHistory(e.SearchHistory)
			s.hasServer = true
		}
		s.rawSearch = e.RawSearchData
		s.mu.Unlock()
		return OutcomeCompleted, true

	case wire.ErrorEvent:
		s.mu.Unlock()
		s.logger.Warn("backend reported turn error", "conversation_id", s.conversationID, "message", e.Message)
		return OutcomeErrored, true

	default:
		s.mu.Unlock()
	}
	return 0, false
}

// upsertSearch appends or updates a history entry by its (iteration,
// queryIndex) identity. A previously seen text preview survives an upsert
// that omits one. Caller holds s.mu.
func (s *Session) upsertSearch(entry core.SearchEntry) {
	key := entry.Key()
	if i, ok := s.historyIdx[key]; ok {
		if entry.TextPreview == "" {
			entry.TextPreview = s.history[i].TextPreview
		}
		s.history[i] = entry
		return
	}
	s.historyIdx[key] = len(s.history)
	s.history = append(s.history, entry)
}

// finalizeOnce performs the single authoritative finalization: freeze the
// assistant message in the store, transition to Terminated and hand the
// materialized message list to the finalizer. Subsequent calls are no-ops,
// so every terminal path may converge here safely.
func (s *Session) finalizeOnce(outcome Outcome, finalize FinalizeFunc) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return
	}
	s.finalized = true

	abandoned := s.abandoned
	switch outcome {
	case OutcomeErrored:
		s.state = StateErrored
	case OutcomeCancelled:
		s.state = StateCancelled
	default:
		s.state = StateFinalizing
	}

	content := s.content.String()
	history := cloneHistory(s.history)
	if s.hasServer {
		history = cloneHistory(s.serverHist)
	}
	rawSearch := s.rawSearch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()
		close(s.done)
	}()

	if abandoned {
		s.logger.Debug("session abandoned", "conversation_id", s.conversationID)
		return
	}

	switch outcome {
	case OutcomeErrored:
		content = genericErrorMessage
	case OutcomeInterrupted:
		if content == "" && len(history) > 0 {
			content = interruptedNote
		}
	}

	s.mirror(func(m *core.Message) {
		m.Content = content
		m.IsStreaming = false
		m.CurrentStatus = nil
		m.SearchHistory = history
		m.RawSearchData = core.CapRawSearchData(rawSearch)
	})

	messages, _ := s.st.Messages(s.conversationID)
	if finalize != nil {
		finalize(outcome, s.conversationID, messages)
	}
}

// mirror applies a mutation to the session's assistant message in the store.
func (s *Session) mirror(mutate func(m *core.Message)) {
	if !s.st.Update(s.conversationID, s.messageID, mutate) {
		s.logger.Warn("assistant message missing from store projection",
			"conversation_id", s.conversationID, "message_id", s.messageID)
	}
}

func cloneHistory(history []core.SearchEntry) []core.SearchEntry {
	cp := make([]core.SearchEntry, len(history))
	copy(cp, history)
	for i, e := range history {
		if e.Sources != nil {
			cp[i].Sources = append([]core.Source(nil), e.Sources...)
		}
		if e.QueryIndex != nil {
			idx := *e.QueryIndex
			cp[i].QueryIndex = &idx
		}
	}
	return cp
}
