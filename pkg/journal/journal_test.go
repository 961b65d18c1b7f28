package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallylabs/creditcore/pkg/event"
)

func newEnvelope(t *testing.T, entityID string, amount int64) *event.Envelope {
	t.Helper()
	env, err := event.New(event.TypeCreditAllocated,
		event.CreditAllocated{EntityID: entityID, AmountMinor: amount},
		event.WithSchemaVersion(2))
	require.NoError(t, err)
	return env
}

// testJournal exercises the Journal contract shared by every backend.
func testJournal(t *testing.T, j Journal) {
	ctx := context.Background()

	t.Run("empty journal", func(t *testing.T) {
		last, err := j.LastSequence(ctx)
		require.NoError(t, err)
		assert.Zero(t, last)

		events, err := j.Read(ctx, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("append assigns contiguous sequences", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			env := newEnvelope(t, fmt.Sprintf("agent-%d", i), int64(i*100))
			seq, err := j.Append(ctx, env)
			require.NoError(t, err)
			assert.Equal(t, uint64(i), seq)
			assert.Equal(t, seq, env.Sequence)
		}

		last, err := j.LastSequence(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), last)
	})

	t.Run("read preserves order and resumes", func(t *testing.T) {
		events, err := j.Read(ctx, 0, 3)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, env := range events {
			assert.Equal(t, uint64(i+1), env.Sequence)
		}

		rest, err := j.Read(ctx, events[len(events)-1].Sequence, 10)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, uint64(4), rest[0].Sequence)
		assert.Equal(t, uint64(5), rest[1].Sequence)

		none, err := j.Read(ctx, 5, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("rejects invalid envelopes", func(t *testing.T) {
		_, err := j.Append(ctx, &event.Envelope{EventID: "x"})
		assert.ErrorIs(t, err, event.ErrTypeRequired)
	})

	t.Run("rejects pre-set sequence", func(t *testing.T) {
		env := newEnvelope(t, "agent-x", 100)
		env.Sequence = 99
		_, err := j.Append(ctx, env)
		assert.ErrorIs(t, err, event.ErrStorageFieldsSet)
	})
}

func TestMemoryJournal(t *testing.T) {
	testJournal(t, NewMemoryJournal())
}

func TestMemoryJournalIsolation(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()

	env := newEnvelope(t, "agent-1", 100)
	_, err := j.Append(ctx, env)
	require.NoError(t, err)

	// Mutating what Read returns must not corrupt the stored copy.
	got, err := j.Read(ctx, 0, 1)
	require.NoError(t, err)
	got[0].Payload[0] = 'X'

	again, err := j.Read(ctx, 0, 1)
	require.NoError(t, err)
	assert.NotEqual(t, got[0].Payload, again[0].Payload)
}

func TestMemoryJournalRewrite(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()

	env := newEnvelope(t, "agent-1", 100)
	seq, err := j.Append(ctx, env)
	require.NoError(t, err)

	upcasted := env.Clone()
	upcasted.SchemaVersion = 3
	upcasted.Payload = []byte(`{"entity_id":"agent-1","amount_minor":100}`)
	require.NoError(t, j.Rewrite(ctx, upcasted))

	got, err := j.Read(ctx, seq-1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got[0].SchemaVersion)

	missing := env.Clone()
	missing.Sequence = 42
	assert.ErrorIs(t, j.Rewrite(ctx, missing), ErrNotFound)
}

func TestFileJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := OpenFileJournal(path)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	testJournal(t, j)
}

func TestFileJournalReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, err := OpenFileJournal(path, WithSync())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, newEnvelope(t, "agent-1", 100))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	// Reopen and keep appending where the first handle left off.
	j2, err := OpenFileJournal(path)
	require.NoError(t, err)
	defer func() { _ = j2.Close() }()

	last, err := j2.LastSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)

	seq, err := j2.Append(ctx, newEnvelope(t, "agent-2", 200))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)

	events, err := j2.Read(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, env := range events {
		assert.Equal(t, uint64(i+1), env.Sequence)
	}
}

func TestFileJournalRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, err := OpenFileJournal(path)
	require.NoError(t, err)
	_, err = j.Append(context.Background(), newEnvelope(t, "agent-1", 100))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	appendLine(t, path, "{not json\n")

	_, err = OpenFileJournal(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt journal entry at line 2")
}

func TestFileJournalRejectsSequenceGap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	appendLine(t, path, `{"event_id":"a","event_type":"credit.allocated","schema_version":2,"payload":{},"occurred_at":"2026-01-01T00:00:00Z","sequence":1}`+"\n")
	appendLine(t, path, `{"event_id":"b","event_type":"credit.allocated","schema_version":2,"payload":{},"occurred_at":"2026-01-01T00:00:00Z","sequence":3}`+"\n")

	_, err := OpenFileJournal(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
