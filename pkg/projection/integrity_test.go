package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallylabs/creditcore/pkg/event"
)

func TestVerifyIntegrity(t *testing.T) {
	t.Run("consistent fold passes", func(t *testing.T) {
		m := NewManager()
		fold(t, m, event.TypeCreditAllocated,
			event.CreditAllocated{EntityID: "agent-1", AmountMinor: 10000})
		fold(t, m, event.TypeCreditConsumed,
			event.CreditConsumed{EntityID: "agent-1", AmountMinor: 3000})
		fold(t, m, event.TypeCreditAllocated,
			event.CreditAllocated{EntityID: "agent-2", AmountMinor: 50})

		report := m.VerifyIntegrity()
		assert.True(t, report.OK)
		assert.Equal(t, 2, report.Checked)
		assert.Empty(t, report.Violations)
	})

	t.Run("empty projections pass", func(t *testing.T) {
		report := NewManager().VerifyIntegrity()
		assert.True(t, report.OK)
		assert.Zero(t, report.Checked)
	})

	t.Run("balance mismatch detected", func(t *testing.T) {
		m := NewManager()
		fold(t, m, event.TypeCreditAllocated,
			event.CreditAllocated{EntityID: "agent-1", AmountMinor: 10000})
		m.Balances.Restore(map[string]int64{"agent-1": 9999})

		report := m.VerifyIntegrity()
		require.False(t, report.OK)
		require.Len(t, report.Violations, 1)
		assert.Equal(t, "balance-mismatch", report.Violations[0].Kind)
		assert.Equal(t, "agent-1", report.Violations[0].EntityID)
	})

	t.Run("missing balance detected", func(t *testing.T) {
		m := NewManager()
		m.Ledgers.Restore(map[string][]LedgerEntry{
			"agent-1": {{EntityID: "agent-1", AmountMinor: 100, EventID: "evt-1", Timestamp: time.Now()}},
		})

		report := m.VerifyIntegrity()
		require.False(t, report.OK)
		require.Len(t, report.Violations, 1)
		assert.Equal(t, "missing-balance", report.Violations[0].Kind)
	})

	t.Run("orphan balance detected", func(t *testing.T) {
		m := NewManager()
		m.Balances.Restore(map[string]int64{"ghost": 42})

		report := m.VerifyIntegrity()
		require.False(t, report.OK)
		require.Len(t, report.Violations, 1)
		assert.Equal(t, "orphan-balance", report.Violations[0].Kind)
	})

	t.Run("zero orphan balance tolerated", func(t *testing.T) {
		m := NewManager()
		m.Balances.Restore(map[string]int64{"ghost": 0})
		assert.True(t, m.VerifyIntegrity().OK)
	})

	t.Run("all violations collected", func(t *testing.T) {
		m := NewManager()
		m.Ledgers.Restore(map[string][]LedgerEntry{
			"a": {{EntityID: "a", AmountMinor: 100}},
			"b": {{EntityID: "b", AmountMinor: 200}},
		})
		m.Balances.Restore(map[string]int64{"a": 99, "ghost": 7})

		report := m.VerifyIntegrity()
		require.False(t, report.OK)
		assert.Len(t, report.Violations, 3)

		kinds := make(map[string]int)
		for _, v := range report.Violations {
			kinds[v.Kind]++
		}
		assert.Equal(t, map[string]int{
			"balance-mismatch": 1,
			"missing-balance":  1,
			"orphan-balance":   1,
		}, kinds)
	})
}
