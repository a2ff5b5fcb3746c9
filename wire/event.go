package wire

import "github.com/hupe1980/chatsync/core"

// Event is one typed record decoded from the answer-generation byte stream.
// Concrete event types implement the unexported isEvent marker enabling a
// closed set callers can exhaustively switch over.
type Event interface{ isEvent() }

// SessionEvent announces the backend correlation id for the turn. The id is
// required for side-channel signaling (skip-search) later in the turn.
type SessionEvent struct {
	SessionID string
}

// isEvent implements the Event interface for SessionEvent.
func (SessionEvent) isEvent() {}

// StatusEvent is an ephemeral processing indicator. CanSkip marks whether the
// user may short-circuit the remaining search work at this point.
type StatusEvent struct {
	Status core.Status
}

// isEvent implements the Event interface for StatusEvent.
func (StatusEvent) isEvent() {}

// SearchEvent upserts one search-history entry, identified by the entry's
// (iteration, queryIndex) key.
type SearchEvent struct {
	Entry core.SearchEntry
}

// isEvent implements the Event interface for SearchEvent.
func (SearchEvent) isEvent() {}

// TextPreviewEvent carries a short live preview string used purely for a
// parsing indicator; it is never persisted as message content.
type TextPreviewEvent struct {
	Text string
}

// isEvent implements the Event interface for TextPreviewEvent.
func (TextPreviewEvent) isEvent() {}

// ContentEvent appends a text delta to the accumulated assistant content.
type ContentEvent struct {
	Delta string
}

// isEvent implements the Event interface for ContentEvent.
func (ContentEvent) isEvent() {}

// DoneEvent terminates the stream successfully. The server-provided search
// history takes precedence over the locally accumulated one; RawSearchData is
// the context blob carried forward to seed the next turn's summarization.
type DoneEvent struct {
	SearchHistory []core.SearchEntry
	RawSearchData string
}

// isEvent implements the Event interface for DoneEvent.
func (DoneEvent) isEvent() {}

// ErrorEvent terminates the stream with a backend-reported failure. The raw
// message is logged only; the conversation receives a generic safe message.
type ErrorEvent struct {
	Message string
}

// isEvent implements the Event interface for ErrorEvent.
func (ErrorEvent) isEvent() {}
