package projection

import (
	"context"
	"fmt"

	"github.com/tallylabs/creditcore/pkg/event"
	"github.com/tallylabs/creditcore/pkg/subscriber"
)

// ManagerName is the subscriber name the manager registers under; it keys
// the idempotency markers for the live consumption path.
const ManagerName = "projection-manager"

// Manager fans one event out to all four projections. It implements
// subscriber.Subscriber so the live consumer and the replay engine share
// the exact same fold, which is what makes the two paths deterministic
// with respect to each other.
type Manager struct {
	Balances  *BalanceProjection
	Ledgers   *LedgerProjection
	Approvals *ApprovalProjection
	Synergy   *SynergyProjection
}

func NewManager() *Manager {
	return &Manager{
		Balances:  NewBalanceProjection(),
		Ledgers:   NewLedgerProjection(),
		Approvals: NewApprovalProjection(),
		Synergy:   NewSynergyProjection(),
	}
}

// HandleEvent decodes the payload once and applies it to every projection.
// Unknown event types are a no-op, not an error.
func (m *Manager) HandleEvent(env *event.Envelope) error {
	if event.LatestVersion(env.EventType) == 0 {
		return nil
	}
	payload, err := event.DecodePayload(env)
	if err != nil {
		return fmt.Errorf("decode %s (%s): %w", env.EventID, env.EventType, err)
	}

	if err := m.Balances.Apply(env, payload); err != nil {
		return err
	}
	if err := m.Ledgers.Apply(env, payload); err != nil {
		return err
	}
	if err := m.Approvals.Apply(env, payload); err != nil {
		return err
	}
	return m.Synergy.Apply(env, payload)
}

// ClearAll resets every projection to empty before a from-scratch replay.
func (m *Manager) ClearAll() {
	m.Balances.Clear()
	m.Ledgers.Clear()
	m.Approvals.Clear()
	m.Synergy.Clear()
}

// State is the serializable form of all four projections.
type State struct {
	Balances  map[string]int64          `json:"balances"`
	Ledgers   map[string][]LedgerEntry  `json:"ledgers"`
	Approvals map[string]ApprovalRecord `json:"approvals"`
	Synergy   map[string]int64          `json:"synergy"`
}

// State captures a deep copy of all projection state.
func (m *Manager) State() State {
	return State{
		Balances:  m.Balances.State(),
		Ledgers:   m.Ledgers.State(),
		Approvals: m.Approvals.State(),
		Synergy:   m.Synergy.State(),
	}
}

// Restore rehydrates all four projections from a snapshot state.
func (m *Manager) Restore(s State) {
	m.Balances.Restore(s.Balances)
	m.Ledgers.Restore(s.Ledgers)
	m.Approvals.Restore(s.Approvals)
	m.Synergy.Restore(s.Synergy)
}

// Name implements subscriber.Subscriber.
func (m *Manager) Name() string { return ManagerName }

// EventTypes implements subscriber.Subscriber.
func (m *Manager) EventTypes() []string {
	return []string{
		event.TypeCreditAllocated,
		event.TypeCreditConsumed,
		event.TypeCreditRefunded,
		event.TypeApprovalRequested,
		event.TypeApprovalDecided,
		event.TypeSynergyAwarded,
	}
}

// Handle implements subscriber.Subscriber.
func (m *Manager) Handle(ctx context.Context, env *event.Envelope) error {
	return m.HandleEvent(env)
}

// ClassifyError implements subscriber.Subscriber. Fold errors are decode
// and shape failures, which retrying cannot fix.
func (m *Manager) ClassifyError(env *event.Envelope, err error) subscriber.Classification {
	return subscriber.DefaultClassify(err)
}
