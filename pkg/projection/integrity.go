package projection

import (
	"fmt"
)

// Violation is one integrity failure found during verification.
type Violation struct {
	EntityID string `json:"entity_id"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s entity=%s: %s", v.Kind, v.EntityID, v.Detail)
}

// IntegrityReport is the result of verifying ledger/balance consistency.
// All violations are collected, not just the first, so an operator can
// diagnose a corrupted rebuild in one pass.
type IntegrityReport struct {
	OK         bool        `json:"ok"`
	Checked    int         `json:"checked"`
	Violations []Violation `json:"violations,omitempty"`
}

// VerifyIntegrity checks that for every entity with a ledger, a balance
// exists and equals the sum of its ledger entries. Amounts are integer
// minor units so the comparison is exact.
func (m *Manager) VerifyIntegrity() *IntegrityReport {
	report := &IntegrityReport{OK: true}

	balances := m.Balances.State()
	ledgers := m.Ledgers.State()

	for entityID, entries := range ledgers {
		report.Checked++

		var sum int64
		for _, e := range entries {
			sum += e.AmountMinor
		}

		balance, ok := balances[entityID]
		if !ok {
			report.Violations = append(report.Violations, Violation{
				EntityID: entityID,
				Kind:     "missing-balance",
				Detail:   fmt.Sprintf("entity has %d ledger entries but no balance", len(entries)),
			})
			continue
		}
		if balance != sum {
			report.Violations = append(report.Violations, Violation{
				EntityID: entityID,
				Kind:     "balance-mismatch",
				Detail:   fmt.Sprintf("balance %d != ledger sum %d", balance, sum),
			})
		}
	}

	// Balances for entities with no ledger mean the balance was written
	// outside the fold.
	for entityID, balance := range balances {
		if _, ok := ledgers[entityID]; ok {
			continue
		}
		if balance != 0 {
			report.Checked++
			report.Violations = append(report.Violations, Violation{
				EntityID: entityID,
				Kind:     "orphan-balance",
				Detail:   fmt.Sprintf("balance %d with no ledger entries", balance),
			})
		}
	}

	report.OK = len(report.Violations) == 0
	return report
}
