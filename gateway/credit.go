package gateway

import (
	"context"
	"sync"

	"github.com/hupe1980/chatsync/core"
)

// InMemoryCreditGateway is a volatile CreditGateway keeping per-owner
// balances in a process local map. Owners not seeded via SetBalance start at
// zero credits, so Check rejects them.
type InMemoryCreditGateway struct {
	mu       sync.Mutex
	balances map[string]core.Balance
}

// NewInMemoryCreditGateway constructs an empty in-memory credit ledger.
func NewInMemoryCreditGateway() *InMemoryCreditGateway {
	return &InMemoryCreditGateway{balances: make(map[string]core.Balance)}
}

// SetBalance seeds or overwrites an owner's balance.
func (g *InMemoryCreditGateway) SetBalance(ownerID string, balance core.Balance) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[ownerID] = balance
}

// Check reports whether the owner can afford the amount.
func (g *InMemoryCreditGateway) Check(_ context.Context, ownerID string, amount int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[ownerID].Credits >= amount, nil
}

// Deduct subtracts the amount if affordable, reporting success.
func (g *InMemoryCreditGateway) Deduct(_ context.Context, ownerID string, amount int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	bal := g.balances[ownerID]
	if bal.Credits < amount {
		return false, nil
	}
	bal.Credits -= amount
	g.balances[ownerID] = bal
	return true, nil
}

// Refresh returns the owner's current balance and plan.
func (g *InMemoryCreditGateway) Refresh(_ context.Context, ownerID string) (core.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[ownerID], nil
}
