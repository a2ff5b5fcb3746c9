// Package chatsync provides a high-level façade over the streaming engine
// and service abstractions (conversation persistence, credit ledger &
// logging) enabling rapid construction of multi-chat clients for a hosted
// search-and-answer service. Most applications interact with this package by:
//  1. Creating a ChatSync via New() or NewFromConfig() (optionally overriding
//     default in-memory services)
//  2. Submitting user turns (Submit) — one independently cancellable stream
//     session per conversation
//  3. Binding their UI to the conversation store via SetVisible / Watch
//
// The façade delegates orchestration to engine.Engine while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply durable gateways and
// a structured logger.
package chatsync

import (
	"context"
	"fmt"

	"github.com/hupe1980/chatsync/client"
	"github.com/hupe1980/chatsync/config"
	"github.com/hupe1980/chatsync/core"
	"github.com/hupe1980/chatsync/engine"
	"github.com/hupe1980/chatsync/gateway"
	gormgw "github.com/hupe1980/chatsync/gateway/gorm"
	"github.com/hupe1980/chatsync/logging"
	"github.com/hupe1980/chatsync/store"
	"github.com/hupe1980/chatsync/stream"
)

// Notice re-exports the engine's dismissible UI notice for façade users.
type Notice = engine.Notice

// Options configures the ChatSync instance.
type Options struct {
	// TurnCost is the credit amount reserved per turn.
	TurnCost int

	// Mode is the backend processing-mode flag sent with every turn.
	Mode string

	// Gateways (default to in-memory implementations if not provided).
	ConversationGateway core.ConversationGateway
	CreditGateway       core.CreditGateway

	// OnNotice receives dismissible UI notices (e.g. a failed conversation
	// save). May be nil.
	OnNotice func(engine.Notice)

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// ChatSync is the high-level façade aggregating the underlying engine and services.
type ChatSync struct {
	opts   Options
	engine *engine.Engine
}

// New creates a new ChatSync instance over the given backend with optional
// overrides. Any unset gateway is initialized with an in-memory implementation.
func New(backend core.Backend, optFns ...func(o *Options)) *ChatSync {
	opts := Options{
		TurnCost:            1,
		ConversationGateway: gateway.NewInMemoryConversationGateway(),
		CreditGateway:       gateway.NewInMemoryCreditGateway(),
		Logger:              logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e := engine.New(backend, func(o *engine.Options) {
		o.TurnCost = opts.TurnCost
		o.Mode = opts.Mode
		o.ConversationGateway = opts.ConversationGateway
		o.CreditGateway = opts.CreditGateway
		o.OnNotice = opts.OnNotice
		o.Logger = opts.Logger
	})

	return &ChatSync{opts: opts, engine: e}
}

// NewFromConfig wires a ChatSync from a loaded configuration: HTTP backend
// client, structured logger and, when a database path is configured, the
// SQLite conversation gateway.
func NewFromConfig(cfg *config.Config, optFns ...func(o *Options)) (*ChatSync, error) {
	backend := client.New(cfg.BackendURL, func(o *client.Options) {
		o.AuthToken = cfg.AuthToken
		o.RequestTimeout = cfg.RequestTimeout.Duration
	})

	logger := logging.NewSlogLogger(parseLevel(cfg.Logging.Level), cfg.Logging.Format, false)

	wired := []func(o *Options){
		func(o *Options) {
			o.TurnCost = cfg.TurnCost
			o.Mode = cfg.Mode
			o.Logger = logger
		},
	}
	if cfg.DatabasePath != "" {
		gw, err := gormgw.Open(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation database: %w", err)
		}
		wired = append(wired, func(o *Options) { o.ConversationGateway = gw })
	}
	wired = append(wired, optFns...)

	return New(backend, wired...), nil
}

func parseLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}

// Submit runs one user turn on a conversation (empty id starts a new one).
// It returns the conversation id and the live session handle.
func (c *ChatSync) Submit(ctx context.Context, ownerID, conversationID, text string) (string, *stream.Session, error) {
	return c.engine.Submit(ctx, ownerID, conversationID, text)
}

// SubmitSync is a synchronous helper that submits a turn and waits for its
// session to terminate, returning the conversation's final message list.
func (c *ChatSync) SubmitSync(ctx context.Context, ownerID, conversationID, text string) (string, []core.Message, error) {
	conversationID, sess, err := c.engine.Submit(ctx, ownerID, conversationID, text)
	if err != nil {
		return conversationID, nil, err
	}

	select {
	case <-ctx.Done():
		return conversationID, nil, ctx.Err()
	case <-sess.Done():
	}

	msgs, _ := c.engine.Store().Messages(conversationID)
	return conversationID, msgs, nil
}

// SetVisible switches the visible conversation; running sessions are untouched.
func (c *ChatSync) SetVisible(ctx context.Context, conversationID string) ([]core.Message, error) {
	return c.engine.SetVisible(ctx, conversationID)
}

// View returns the visible-conversation binding.
func (c *ChatSync) View() *store.View { return c.engine.View() }

// Store returns the observable conversation projection.
func (c *ChatSync) Store() *store.Store { return c.engine.Store() }

// IsGenerating reports whether a conversation has an active session.
func (c *ChatSync) IsGenerating(conversationID string) bool {
	return c.engine.IsGenerating(conversationID)
}

// ActiveConversationIDs returns all conversation ids with an active session.
func (c *ChatSync) ActiveConversationIDs() []string {
	return c.engine.Registry().ActiveConversationIDs()
}

// SkipSearch short-circuits remaining search work for a generating conversation.
func (c *ChatSync) SkipSearch(ctx context.Context, conversationID string) error {
	return c.engine.SkipSearch(ctx, conversationID)
}

// Cancel aborts the active session for a conversation.
func (c *ChatSync) Cancel(conversationID string) error {
	return c.engine.Cancel(conversationID)
}

// Conversations lists the owner's conversation summaries.
func (c *ChatSync) Conversations(ctx context.Context, ownerID string) ([]core.ConversationSummary, error) {
	return c.engine.Conversations(ctx, ownerID)
}

// DeleteConversation removes a conversation from memory and durable storage.
func (c *ChatSync) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.engine.DeleteConversation(ctx, conversationID)
}

// RefreshBalance returns the owner's current credit balance and plan.
func (c *ChatSync) RefreshBalance(ctx context.Context, ownerID string) (core.Balance, error) {
	return c.engine.RefreshBalance(ctx, ownerID)
}

// Shutdown abandons all in-flight sessions. Call when the hosting view is
// torn down entirely.
func (c *ChatSync) Shutdown() { c.engine.Shutdown() }
