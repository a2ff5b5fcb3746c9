package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/chatsync/core"
	"github.com/hupe1980/chatsync/logging"
	"github.com/hupe1980/chatsync/store"
	"github.com/hupe1980/chatsync/stream"
)

// maxMemoryEntries bounds the prior-turn memory carried to the backend.
const maxMemoryEntries = 12

// Notice is a dismissible, non-blocking message surfaced to the UI, e.g.
// when a finalization write fails. Local state remains the user's view of
// truth; there is no automatic retry.
type Notice struct {
	ConversationID string
	Message        string
}

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// TurnCost is the credit amount reserved per turn.
	TurnCost int
	// Mode is the backend processing-mode flag sent with every turn.
	Mode string
	// ConversationGateway persists finalized conversations.
	ConversationGateway core.ConversationGateway
	// CreditGateway is consulted before a turn opens and debited after it.
	CreditGateway core.CreditGateway
	// OnNotice receives dismissible UI notices. May be nil.
	OnNotice func(Notice)
	// Logger receives structured engine logs.
	Logger logging.Logger
}

// Engine drives the turn submission protocol: quota pre-flight, conversation
// creation, synchronous placeholder staging, stream session lifecycle and
// the single authoritative finalization per turn. Public methods are safe
// for concurrent use.
type Engine struct {
	backend  core.Backend
	convs    core.ConversationGateway
	credits  core.CreditGateway
	st       *store.Store
	registry *stream.Registry
	view     *store.View
	logger   logging.Logger
	turnCost int
	mode     string
	onNotice func(Notice)
}

// New constructs an Engine over the given backend. The conversation and
// credit gateways are required; the façade package wires in-memory defaults
// for local development.
func New(backend core.Backend, optFns ...func(o *Options)) *Engine {
	opts := Options{
		TurnCost: 1,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	st := store.New()
	registry := stream.NewRegistry(opts.Logger)
	return &Engine{
		backend:  backend,
		convs:    opts.ConversationGateway,
		credits:  opts.CreditGateway,
		st:       st,
		registry: registry,
		view:     store.NewView(st, registry, opts.ConversationGateway),
		logger:   opts.Logger,
		turnCost: opts.TurnCost,
		mode:     opts.Mode,
		onNotice: opts.OnNotice,
	}
}

// Store exposes the observable conversation projection the UI renders.
func (e *Engine) Store() *store.Store { return e.st }

// View exposes the visible-conversation binding.
func (e *Engine) View() *store.View { return e.view }

// Registry exposes the active-session registry.
func (e *Engine) Registry() *stream.Registry { return e.registry }

// Submit runs one user turn: quota check, conversation creation if needed,
// synchronous staging of the user message and assistant placeholder, and the
// stream session start. It returns the conversation id (newly created when
// conversationID was empty) and the session handle. A failed quota check
// returns core.ErrInsufficientCredits before any session is registered.
func (e *Engine) Submit(ctx context.Context, ownerID, conversationID, text string) (string, *stream.Session, error) {
	ok, err := e.credits.Check(ctx, ownerID, e.turnCost)
	if err != nil {
		return "", nil, fmt.Errorf("quota check failed: %w", err)
	}
	if !ok {
		return "", nil, core.ErrInsufficientCredits
	}

	if conversationID == "" {
		conv, err := e.convs.Create(ctx, ownerID, text)
		if err != nil {
			return "", nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		conversationID = conv.ID
		e.st.Set(conversationID, nil)
	} else if err := e.ensureProjection(ctx, conversationID); err != nil {
		return "", nil, err
	}

	// Memory and carried-forward search context come from the state before
	// this turn's messages are staged.
	prior, _ := e.st.Messages(conversationID)
	req := core.TurnRequest{Message: text, Mode: e.mode}
	req.Memory = buildMemory(prior)
	req.SearchContext, req.SearchContextQuery = carriedSearchContext(prior)

	// A prior session must be cancelled before the new placeholder is staged:
	// cancellation freezes its placeholder, and at most one message per
	// conversation may be streaming at any instant.
	if prior, ok := e.registry.Lookup(conversationID); ok {
		prior.Cancel()
	}

	// Stage synchronously so the UI reflects "sending" before any network byte.
	userMsg := core.NewUserMessage(text)
	placeholder := core.NewAssistantPlaceholder()
	e.st.Append(conversationID, userMsg)
	e.st.Append(conversationID, placeholder)

	// The session outlives the submitting call; only Shutdown or
	// supersession cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := stream.New(conversationID, placeholder.ID, cancel, e.st, e.logger)

	// Register before connecting so the prior session's request is cancelled
	// before the new one opens.
	e.registry.Register(sess)

	start := time.Now()
	body, err := e.backend.StartTurn(runCtx, req)
	if err != nil {
		e.registry.Remove(sess)
		cancel()
		if err == core.ErrInsufficientCredits {
			// The backend's own quota gate fired after the local check
			// passed; roll back the staged messages and surface the signal.
			e.st.Remove(conversationID, userMsg.ID, placeholder.ID)
			return conversationID, nil, core.ErrInsufficientCredits
		}
		sess.Fail(err, e.finalizer(ownerID, sess, start))
		return conversationID, sess, fmt.Errorf("failed to start turn: %w", err)
	}

	go sess.Run(body, e.finalizer(ownerID, sess, start))

	return conversationID, sess, nil
}

// finalizer returns the FinalizeFunc invoked exactly once per turn. All
// terminal paths converge here: persist the materialized message list (except
// for superseded turns), deduct quota best-effort and retire the session.
func (e *Engine) finalizer(ownerID string, sess *stream.Session, start time.Time) stream.FinalizeFunc {
	return func(outcome stream.Outcome, conversationID string, messages []core.Message) {
		defer e.registry.Remove(sess)

		if outcome == stream.OutcomeCancelled {
			// Superseded by a newer turn; the newer turn's finalization owns
			// the next durable write.
			e.logger.Debug("superseded turn discarded", "conversation_id", conversationID)
			return
		}

		if err := e.convs.Update(context.Background(), conversationID, messages); err != nil {
			e.logger.Error("finalization write failed", "conversation_id", conversationID, "error", err)
			e.notify(Notice{
				ConversationID: conversationID,
				Message:        "This conversation could not be saved. Your messages are still available here.",
			})
		}

		if outcome == stream.OutcomeCompleted || outcome == stream.OutcomeInterrupted {
			ok, err := e.credits.Deduct(context.Background(), ownerID, e.turnCost)
			if err != nil || !ok {
				e.logger.Warn("post-turn credit deduction failed", "owner_id", ownerID, "error", err)
			}
		}

		e.logger.Info("turn finalized",
			"conversation_id", conversationID,
			"outcome", outcome.String(),
			"duration", time.Since(start))
	}
}

// ensureProjection loads a conversation into the store when it has neither an
// in-memory entry nor an active session. A generating conversation's live
// projection is never overwritten by the stale durable copy.
func (e *Engine) ensureProjection(ctx context.Context, conversationID string) error {
	if e.st.Has(conversationID) || e.registry.IsGenerating(conversationID) {
		return nil
	}
	conv, err := e.convs.Read(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	e.st.Set(conversationID, conv.Messages)
	return nil
}

// SkipSearch fires the side-channel request that short-circuits the backend's
// remaining search work for a generating conversation. Only valid while the
// last status event marked the skip-allowed flag; failures are logged only.
func (e *Engine) SkipSearch(ctx context.Context, conversationID string) error {
	sess, ok := e.registry.Lookup(conversationID)
	if !ok {
		return stream.ErrSessionNotFound
	}
	if !sess.CanSkip() {
		return fmt.Errorf("skip not available for conversation %s", conversationID)
	}
	sessionID := sess.SessionID()
	if sessionID == "" {
		return fmt.Errorf("no backend session id announced yet")
	}

	go func() {
		if err := e.backend.SkipSearch(context.WithoutCancel(ctx), sessionID); err != nil {
			e.logger.Warn("skip-search request failed", "conversation_id", conversationID, "error", err)
		}
	}()
	return nil
}

// Cancel aborts the active session for a conversation, if any.
func (e *Engine) Cancel(conversationID string) error {
	return e.registry.Cancel(conversationID)
}

// IsGenerating reports whether a conversation has an active session.
func (e *Engine) IsGenerating(conversationID string) bool {
	return e.registry.IsGenerating(conversationID)
}

// SetVisible switches the visible conversation without touching any running
// session and returns its current message list.
func (e *Engine) SetVisible(ctx context.Context, conversationID string) ([]core.Message, error) {
	return e.view.SetVisible(ctx, conversationID)
}

// Conversations lists the owner's conversation summaries.
func (e *Engine) Conversations(ctx context.Context, ownerID string) ([]core.ConversationSummary, error) {
	return e.convs.List(ctx, ownerID)
}

// DeleteConversation drops a conversation everywhere: any active session is
// abandoned, then the projection and the durable copy are removed.
func (e *Engine) DeleteConversation(ctx context.Context, conversationID string) error {
	if sess, ok := e.registry.Lookup(conversationID); ok {
		sess.Abandon()
		e.registry.Remove(sess)
	}
	e.st.Delete(conversationID)
	if err := e.convs.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// RefreshBalance returns the owner's current credit balance and plan.
func (e *Engine) RefreshBalance(ctx context.Context, ownerID string) (core.Balance, error) {
	return e.credits.Refresh(ctx, ownerID)
}

// Shutdown abandons all active sessions, releasing network resources. This
// is the only path where in-flight turns are dropped instead of finalized.
func (e *Engine) Shutdown() {
	e.registry.AbandonAll()
}

func (e *Engine) notify(n Notice) {
	if e.onNotice != nil {
		e.onNotice(n)
	}
}

// buildMemory converts finalized prior messages into role/content pairs,
// keeping the most recent entries within the memory budget.
func buildMemory(messages []core.Message) []core.MemoryEntry {
	entries := make([]core.MemoryEntry, 0, len(messages))
	for _, m := range messages {
		if m.IsStreaming || m.Content == "" {
			continue
		}
		entries = append(entries, core.MemoryEntry{Role: m.Role, Content: m.Content})
	}
	if len(entries) > maxMemoryEntries {
		entries = entries[len(entries)-maxMemoryEntries:]
	}
	return entries
}

// carriedSearchContext returns the most recent assistant raw search blob and
// the user question it answered, for seeding the next turn's summarization.
func carriedSearchContext(messages []core.Message) (string, string) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != core.RoleAssistant || m.IsStreaming || m.RawSearchData == "" {
			continue
		}
		question := ""
		if i > 0 && messages[i-1].Role == core.RoleUser {
			question = messages[i-1].Content
		}
		return m.RawSearchData, question
	}
	return "", ""
}
