package projection

import (
	"sync"

	"github.com/tallylabs/creditcore/pkg/event"
)

// SynergyProjection tallies cooperation credits per entity.
type SynergyProjection struct {
	mu      sync.RWMutex
	tallies map[string]int64
}

func NewSynergyProjection() *SynergyProjection {
	return &SynergyProjection{tallies: make(map[string]int64)}
}

// Apply folds one decoded event into the tallies. Both sides of a
// cooperation earn the points.
func (p *SynergyProjection) Apply(env *event.Envelope, payload any) error {
	pl, ok := payload.(event.SynergyAwarded)
	if !ok {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tallies[pl.EntityID] += pl.Points
	if pl.PartnerID != "" {
		p.tallies[pl.PartnerID] += pl.Points
	}
	return nil
}

// Tally returns the cooperation-credit tally for an entity.
func (p *SynergyProjection) Tally(entityID string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tallies[entityID]
}

// State returns a copy of all tallies for snapshotting.
func (p *SynergyProjection) State() map[string]int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]int64, len(p.tallies))
	for k, v := range p.tallies {
		out[k] = v
	}
	return out
}

// Restore replaces the projection state from a snapshot.
func (p *SynergyProjection) Restore(state map[string]int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tallies = make(map[string]int64, len(state))
	for k, v := range state {
		p.tallies[k] = v
	}
}

// Clear resets the projection to empty.
func (p *SynergyProjection) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tallies = make(map[string]int64)
}
