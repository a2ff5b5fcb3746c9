// Package core provides the foundational domain types and interfaces used by
// chatsync. It defines the core abstractions for:
//
//   - Messages (one conversational turn fragment, mutable only while streaming)
//   - Search history (append-or-update entries keyed by iteration/query index)
//   - Conversations (durable ordered message lists owned by the gateway)
//   - Pluggable gateways for conversation persistence and the credit ledger
//   - The Backend interface over the remote answer-generation service
//
// The package intentionally keeps implementation concerns (persistence,
// transport, session orchestration) out of scope, exposing small interfaces
// so concrete backends can be swapped at wiring time without touching the
// streaming engine.
package core
