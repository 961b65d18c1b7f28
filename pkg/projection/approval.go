package projection

import (
	"sync"
	"time"

	"github.com/tallylabs/creditcore/pkg/event"
)

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ApprovalRecord is the derived view of one approval request.
type ApprovalRecord struct {
	RequestID   string         `json:"request_id"`
	EntityID    string         `json:"entity_id"`
	TenantID    string         `json:"tenant_id,omitempty"`
	AmountMinor int64          `json:"amount_minor"`
	Purpose     string         `json:"purpose,omitempty"`
	Status      ApprovalStatus `json:"status"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ApprovalProjection maps request id -> approval record.
type ApprovalProjection struct {
	mu       sync.RWMutex
	requests map[string]ApprovalRecord
}

func NewApprovalProjection() *ApprovalProjection {
	return &ApprovalProjection{requests: make(map[string]ApprovalRecord)}
}

// Apply folds one decoded event into the approvals. A decision for an
// unknown request still creates a record; the journal is authoritative and
// the request event may be earlier in a partition we have not folded in a
// partial view.
func (p *ApprovalProjection) Apply(env *event.Envelope, payload any) error {
	switch pl := payload.(type) {
	case event.ApprovalRequested:
		p.mu.Lock()
		defer p.mu.Unlock()
		p.requests[pl.RequestID] = ApprovalRecord{
			RequestID:   pl.RequestID,
			EntityID:    pl.EntityID,
			TenantID:    env.TenantID,
			AmountMinor: pl.AmountMinor,
			Purpose:     pl.Purpose,
			Status:      ApprovalPending,
			UpdatedAt:   env.OccurredAt,
		}
	case event.ApprovalDecided:
		p.mu.Lock()
		defer p.mu.Unlock()
		rec := p.requests[pl.RequestID]
		rec.RequestID = pl.RequestID
		if pl.Approved {
			rec.Status = ApprovalApproved
		} else {
			rec.Status = ApprovalRejected
		}
		rec.DecidedBy = pl.DecidedBy
		rec.UpdatedAt = env.OccurredAt
		p.requests[pl.RequestID] = rec
	}
	return nil
}

// Request returns the record for a request id.
func (p *ApprovalProjection) Request(requestID string) (ApprovalRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.requests[requestID]
	return rec, ok
}

// State returns a copy of all approval records for snapshotting.
func (p *ApprovalProjection) State() map[string]ApprovalRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]ApprovalRecord, len(p.requests))
	for k, v := range p.requests {
		out[k] = v
	}
	return out
}

// Restore replaces the projection state from a snapshot.
func (p *ApprovalProjection) Restore(state map[string]ApprovalRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = make(map[string]ApprovalRecord, len(state))
	for k, v := range state {
		p.requests[k] = v
	}
}

// Clear resets the projection to empty.
func (p *ApprovalProjection) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = make(map[string]ApprovalRecord)
}
