package core

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role identifies the author of a conversational message.
type Role string

const (
	// RoleUser marks a message authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a message authored by the answer service.
	RoleAssistant Role = "assistant"
)

// MaxRawSearchDataBytes caps the carried-forward raw search context that is
// persisted alongside an assistant message. The blob only seeds the next
// turn's summarization; anything beyond the cap is truncated on a rune
// boundary before the message is handed to the persistence gateway.
const MaxRawSearchDataBytes = 16 * 1024

// Status is the ephemeral processing indicator attached to a streaming
// assistant message. It is cleared as soon as content starts arriving and is
// never persisted.
type Status struct {
	Message string `json:"message"`
	Step    int    `json:"step"`
	Icon    string `json:"icon"`
	CanSkip bool   `json:"canSkip"`
}

// Source is one cited document discovered during a backend search.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// SearchStatus tracks the lifecycle of a single backend search query.
type SearchStatus string

const (
	// SearchStatusSearching indicates the query was issued and sources are pending.
	SearchStatusSearching SearchStatus = "searching"
	// SearchStatusComplete indicates sources have been collected for the query.
	SearchStatusComplete SearchStatus = "complete"
)

// SearchEntry records one query issued by the backend during a turn. A turn
// may issue several queries concurrently within one iteration, so the pair
// (Iteration, QueryIndex) forms the entry's identity. QueryIndex is a pointer
// because early backend generations omit it for sequential searches.
type SearchEntry struct {
	Query       string       `json:"query"`
	Iteration   int          `json:"iteration"`
	QueryIndex  *int         `json:"queryIndex,omitempty"`
	Sources     []Source     `json:"sources"`
	Status      SearchStatus `json:"status"`
	TextPreview string       `json:"textPreview,omitempty"`
}

// SearchKey is the comparable identity of a SearchEntry, usable as a map key.
type SearchKey struct {
	Iteration  int
	QueryIndex int
}

// Key returns the entry's identity. A missing QueryIndex maps to -1 so that
// indexed and unindexed entries within the same iteration never collide.
func (e SearchEntry) Key() SearchKey {
	idx := -1
	if e.QueryIndex != nil {
		idx = *e.QueryIndex
	}
	return SearchKey{Iteration: e.Iteration, QueryIndex: idx}
}

// Message is one conversational turn fragment. Content is mutable while
// IsStreaming is true and owned exclusively by the stream session writing
// into it; once the turn finalizes the message is frozen and never mutated
// again except by deletion of the whole conversation.
type Message struct {
	ID            string        `json:"id"`
	Role          Role          `json:"role"`
	Content       string        `json:"content"`
	IsStreaming   bool          `json:"isStreaming"`
	SearchHistory []SearchEntry `json:"searchHistory,omitempty"`
	CurrentStatus *Status       `json:"currentStatus,omitempty"`
	RawSearchData string        `json:"rawSearchData,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// NewUserMessage creates a finalized user message for the submitted text.
func NewUserMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleUser, Content: text, CreatedAt: time.Now().UTC()}
}

// NewAssistantPlaceholder creates the empty streaming assistant message that
// a stream session will write into for the duration of one turn.
func NewAssistantPlaceholder() Message {
	return Message{ID: NewID(), Role: RoleAssistant, IsStreaming: true, CreatedAt: time.Now().UTC()}
}

// Clone returns a deep copy safe for independent mutation.
func (m Message) Clone() Message {
	cp := m
	if m.SearchHistory != nil {
		cp.SearchHistory = make([]SearchEntry, len(m.SearchHistory))
		copy(cp.SearchHistory, m.SearchHistory)
		for i, e := range m.SearchHistory {
			if e.Sources != nil {
				cp.SearchHistory[i].Sources = append([]Source(nil), e.Sources...)
			}
			if e.QueryIndex != nil {
				idx := *e.QueryIndex
				cp.SearchHistory[i].QueryIndex = &idx
			}
		}
	}
	if m.CurrentStatus != nil {
		st := *m.CurrentStatus
		cp.CurrentStatus = &st
	}
	return cp
}

// CapRawSearchData truncates a raw search context blob to the persistence
// cap, cutting on a rune boundary.
func CapRawSearchData(data string) string {
	if len(data) <= MaxRawSearchDataBytes {
		return data
	}
	cut := MaxRawSearchDataBytes
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return data[:cut]
}

// NewID generates a new unique identifier for messages, conversations and
// correlation across the wire protocol.
func NewID() string { return uuid.NewString() }
