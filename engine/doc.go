// Package engine implements the caller-facing turn submission protocol for
// chatsync.
//
// The Engine coordinates one complete turn: the credit pre-flight, creating
// a conversation on first use, staging the user message and the streaming
// assistant placeholder synchronously, opening the stream session bound to
// that placeholder, and the single authoritative finalization once the
// session reaches a terminal state. It also exposes the surrounding surface
// a chat UI needs — visibility switching, per-conversation generation state,
// the skip-search side channel, conversation listing/deletion and balance
// refresh.
//
// Concurrency model: each submitted turn runs its own stream session in a
// goroutine; sessions for different conversations are causally independent
// and share no mutable state because each owns its accumulator and only
// writes the store slot for its own conversation id. The registry enforces
// at most one active session per conversation by cancelling the prior
// session before a new one connects.
package engine
