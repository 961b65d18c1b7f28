package projection

import (
	"sync"

	"github.com/tallylabs/creditcore/pkg/event"
)

// BalanceProjection maps entity id -> current balance in minor units.
// Invariant after any full fold: balance equals the sum of the entity's
// ledger entries.
type BalanceProjection struct {
	mu       sync.RWMutex
	balances map[string]int64
}

func NewBalanceProjection() *BalanceProjection {
	return &BalanceProjection{balances: make(map[string]int64)}
}

// Apply folds one decoded event into the balances.
func (p *BalanceProjection) Apply(env *event.Envelope, payload any) error {
	var (
		entityID string
		delta    int64
	)
	switch pl := payload.(type) {
	case event.CreditAllocated:
		entityID, delta = pl.EntityID, pl.AmountMinor
	case event.CreditConsumed:
		entityID, delta = pl.EntityID, -pl.AmountMinor
	case event.CreditRefunded:
		entityID, delta = pl.EntityID, pl.AmountMinor
	default:
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[entityID] += delta
	return nil
}

// Balance returns the entity's balance and whether the entity is known.
func (p *BalanceProjection) Balance(entityID string) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.balances[entityID]
	return b, ok
}

// State returns a copy of all balances for snapshotting.
func (p *BalanceProjection) State() map[string]int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]int64, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out
}

// Restore replaces the projection state from a snapshot.
func (p *BalanceProjection) Restore(state map[string]int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.balances = make(map[string]int64, len(state))
	for k, v := range state {
		p.balances[k] = v
	}
}

// Clear resets the projection to empty.
func (p *BalanceProjection) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances = make(map[string]int64)
}
