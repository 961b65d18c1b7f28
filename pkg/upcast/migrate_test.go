package upcast

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallylabs/creditcore/pkg/event"
	"github.com/tallylabs/creditcore/pkg/journal"
)

// seedMixedJournal appends staleV1 credit.allocated v1 events plus currentN
// already-latest events.
func seedMixedJournal(t *testing.T, staleV1, currentN int) *journal.MemoryJournal {
	t.Helper()
	ctx := context.Background()
	j := journal.NewMemoryJournal()

	for i := 0; i < staleV1; i++ {
		env, err := event.New(event.TypeCreditAllocated,
			map[string]any{"entity_id": fmt.Sprintf("agent-%d", i), "amount": 10.0})
		require.NoError(t, err)
		_, err = j.Append(ctx, env)
		require.NoError(t, err)
	}
	for i := 0; i < currentN; i++ {
		env, err := event.New(event.TypeCreditConsumed,
			event.CreditConsumed{EntityID: "agent-0", AmountMinor: 100})
		require.NoError(t, err)
		_, err = j.Append(ctx, env)
		require.NoError(t, err)
	}
	return j
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()
	j := seedMixedJournal(t, 3, 2)

	report, err := DefaultRegistry().Analyze(ctx, j, 2)
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalEvents)
	assert.Equal(t, 3, report.NeedingUpcast)
	assert.Equal(t, 3, report.ByType[event.TypeCreditAllocated][1])
	assert.NotContains(t, report.ByType, event.TypeCreditConsumed)
}

func TestAnalyzeEmptyJournal(t *testing.T) {
	report, err := DefaultRegistry().Analyze(context.Background(), journal.NewMemoryJournal(), 64)
	require.NoError(t, err)
	assert.Zero(t, report.TotalEvents)
	assert.Zero(t, report.NeedingUpcast)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	j := seedMixedJournal(t, 3, 2)
	r := DefaultRegistry()

	report, err := r.Migrate(ctx, j, j, 2, false)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 3, report.Upcasted)
	assert.False(t, report.DryRun)
	assert.Empty(t, report.Failures)

	// Every stored event is now at its latest version and decodable.
	events, err := j.Read(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for _, env := range events {
		assert.False(t, r.Needed(env), "sequence %d still stale", env.Sequence)
		_, err := event.DecodePayload(env)
		assert.NoError(t, err)
	}

	// A second run finds nothing to do.
	again, err := r.Migrate(ctx, j, j, 2, false)
	require.NoError(t, err)
	assert.Zero(t, again.Upcasted)
}

func TestMigrateDryRun(t *testing.T) {
	ctx := context.Background()
	j := seedMixedJournal(t, 2, 0)

	report, err := DefaultRegistry().Migrate(ctx, j, j, 64, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Upcasted)

	// Nothing was written back.
	events, err := j.Read(ctx, 0, 100)
	require.NoError(t, err)
	for _, env := range events {
		assert.Equal(t, 1, env.SchemaVersion)
	}
}

func TestMigrateCollectsFailures(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemoryJournal()

	good, err := event.New(event.TypeCreditAllocated,
		map[string]any{"entity_id": "agent-1", "amount": 10.0})
	require.NoError(t, err)
	_, err = j.Append(ctx, good)
	require.NoError(t, err)

	bad, err := event.New(event.TypeCreditAllocated, json.RawMessage(`{"amount":"ten"}`))
	require.NoError(t, err)
	_, err = j.Append(ctx, bad)
	require.NoError(t, err)

	report, err := DefaultRegistry().Migrate(ctx, j, j, 64, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Upcasted)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, bad.EventID, report.Failures[0].EventID)
	assert.Equal(t, uint64(2), report.Failures[0].Sequence)
}
