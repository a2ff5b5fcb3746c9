package core

import (
	"context"
	"fmt"
)

var (
	// ErrConversationNotFound is returned when a conversation id does not
	// exist in the underlying gateway.
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	// ErrInsufficientCredits is the first-class quota-exhausted condition. It
	// is surfaced to callers as a UI signal, never treated as a generic
	// transport failure.
	ErrInsufficientCredits = fmt.Errorf("insufficient credits")
)

// ConversationGateway is the durable conversation storage the engine
// finalizes into. The engine calls Update at most once per turn with the
// fully materialized message list.
type ConversationGateway interface {
	Create(ctx context.Context, ownerID, seedText string) (*Conversation, error)
	Update(ctx context.Context, conversationID string, messages []Message) error
	Read(ctx context.Context, conversationID string) (*Conversation, error)
	List(ctx context.Context, ownerID string) ([]ConversationSummary, error)
	Delete(ctx context.Context, conversationID string) error
}

// Balance reports a user's current credit standing and plan.
type Balance struct {
	Credits int    `json:"credits"`
	Plan    string `json:"plan"`
}

// CreditGateway is the quota ledger consulted before a turn opens and
// debited after it finalizes. Deduction is best effort; a false return from
// Check rejects the turn before any session is registered.
type CreditGateway interface {
	Check(ctx context.Context, ownerID string, amount int) (bool, error)
	Deduct(ctx context.Context, ownerID string, amount int) (bool, error)
	Refresh(ctx context.Context, ownerID string) (Balance, error)
}
