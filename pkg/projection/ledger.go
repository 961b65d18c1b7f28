// Package projection materializes balances, ledgers, approvals, and
// synergy tallies by folding journal events. Projections are dumb
// reducers: they never call out to the journal or the idempotency guard,
// which is what makes them safely replayable and snapshot-able.
package projection

import (
	"sync"
	"time"

	"github.com/tallylabs/creditcore/pkg/event"
)

// LedgerEntry is one signed credit delta for one entity. Entries are only
// ever appended by the fold; replay is the sole rebuild mechanism.
type LedgerEntry struct {
	EntityID    string    `json:"entity_id"`
	AmountMinor int64     `json:"amount_minor"`
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// LedgerProjection maps entity id -> append-ordered ledger entries.
type LedgerProjection struct {
	mu      sync.RWMutex
	entries map[string][]LedgerEntry
}

func NewLedgerProjection() *LedgerProjection {
	return &LedgerProjection{entries: make(map[string][]LedgerEntry)}
}

// Apply folds one decoded event into the ledger. Irrelevant event types
// are a no-op.
func (p *LedgerProjection) Apply(env *event.Envelope, payload any) error {
	var (
		entityID string
		amount   int64
	)
	switch pl := payload.(type) {
	case event.CreditAllocated:
		entityID, amount = pl.EntityID, pl.AmountMinor
	case event.CreditConsumed:
		entityID, amount = pl.EntityID, -pl.AmountMinor
	case event.CreditRefunded:
		entityID, amount = pl.EntityID, pl.AmountMinor
	default:
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[entityID] = append(p.entries[entityID], LedgerEntry{
		EntityID:    entityID,
		AmountMinor: amount,
		EventID:     env.EventID,
		Timestamp:   env.OccurredAt,
	})
	return nil
}

// Entries returns a copy of the entity's ledger in append order.
func (p *LedgerProjection) Entries(entityID string) []LedgerEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	src := p.entries[entityID]
	out := make([]LedgerEntry, len(src))
	copy(out, src)
	return out
}

// State returns a deep copy of all ledgers for snapshotting.
func (p *LedgerProjection) State() map[string][]LedgerEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string][]LedgerEntry, len(p.entries))
	for k, v := range p.entries {
		entries := make([]LedgerEntry, len(v))
		copy(entries, v)
		out[k] = entries
	}
	return out
}

// Restore replaces the projection state from a snapshot.
func (p *LedgerProjection) Restore(state map[string][]LedgerEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = make(map[string][]LedgerEntry, len(state))
	for k, v := range state {
		entries := make([]LedgerEntry, len(v))
		copy(entries, v)
		p.entries[k] = entries
	}
}

// Clear resets the projection to empty.
func (p *LedgerProjection) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string][]LedgerEntry)
}
