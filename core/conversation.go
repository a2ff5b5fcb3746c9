package core

import (
	"strings"
	"time"
	"unicode/utf8"
)

// maxTitleRunes bounds conversation titles derived from the first user message.
const maxTitleRunes = 60

// Conversation is the durable container for an ordered message list. It is
// owned by the persistence gateway; the engine only ever holds an in-memory
// projection of its messages keyed by conversation id.
type Conversation struct {
	ID       string    `json:"id"`
	OwnerID  string    `json:"ownerId"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// ConversationSummary is the listing projection of a conversation, without
// its message payload.
type ConversationSummary struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Updated time.Time `json:"updated"`
}

// NewConversation creates a conversation titled from the seed text.
func NewConversation(ownerID, seedText string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:      NewID(),
		OwnerID: ownerID,
		Title:   DeriveTitle(seedText),
		Created: now,
		Updated: now,
	}
}

// DeriveTitle produces a conversation title from the first user message:
// whitespace collapsed, truncated to a fixed rune budget with an ellipsis.
func DeriveTitle(seedText string) string {
	title := strings.Join(strings.Fields(seedText), " ")
	if title == "" {
		return "New chat"
	}
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
}

// CloneMessages returns a deep copy of the conversation's message list.
func (c *Conversation) CloneMessages() []Message {
	msgs := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = m.Clone()
	}
	return msgs
}
