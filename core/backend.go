package core

import (
	"context"
	"io"
)

// MemoryEntry is one prior-turn role/content pair carried to the backend so
// follow-up questions can be answered in context.
type MemoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TurnRequest describes one outbound answer-generation request.
type TurnRequest struct {
	// Message is the user's submitted text.
	Message string `json:"message"`
	// Memory is the prior conversation as role/content pairs.
	Memory []MemoryEntry `json:"memory,omitempty"`
	// SearchContext is the raw search blob carried forward from the previous
	// turn, used only to seed summarization on the backend.
	SearchContext string `json:"searchContext,omitempty"`
	// SearchContextQuery is the question the carried-forward context answered.
	SearchContextQuery string `json:"searchContextQuery,omitempty"`
	// Mode selects the backend processing mode.
	Mode string `json:"mode,omitempty"`
}

// Backend is the remote answer-generation service. StartTurn opens the event
// byte stream for one turn; the returned reader stays valid until the stream
// ends or ctx is cancelled. Implementations map the reserved quota response
// code to ErrInsufficientCredits.
type Backend interface {
	StartTurn(ctx context.Context, req TurnRequest) (io.ReadCloser, error)
	// SkipSearch asks the backend to abandon remaining search iterations and
	// generate now. Correlated by the session id announced on the stream;
	// fire-and-forget.
	SkipSearch(ctx context.Context, sessionID string) error
}
