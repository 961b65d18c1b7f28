package journal

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallylabs/creditcore/pkg/event"
)

func TestSQLJournal_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	j := NewSQLJournal(db)
	ctx := context.Background()

	env, err := event.New(event.TypeCreditConsumed,
		event.CreditConsumed{EntityID: "agent-1", AmountMinor: 500},
		event.WithTraceID("trace-1"),
		event.WithTenantID("tenant-a"),
		event.WithOccurredAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(sequence\) FROM credit_events`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO credit_events`).
		WithArgs(int64(8), env.EventID, env.EventType, env.SchemaVersion,
			env.TraceID, env.TenantID, string(env.Payload), env.OccurredAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	seq, err := j.Append(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), seq)
	assert.Equal(t, uint64(8), env.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJournal_AppendFirstEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	j := NewSQLJournal(db)

	env, err := event.New(event.TypeCreditAllocated,
		event.CreditAllocated{EntityID: "agent-1", AmountMinor: 10000},
		event.WithSchemaVersion(2),
		event.WithOccurredAt(time.Now().UTC()),
	)
	require.NoError(t, err)

	mock.ExpectBegin()
	// MAX(sequence) on an empty table is NULL, so the first sequence is 1.
	mock.ExpectQuery(`SELECT MAX\(sequence\) FROM credit_events`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(`INSERT INTO credit_events`).
		WithArgs(int64(1), env.EventID, env.EventType, env.SchemaVersion,
			env.TraceID, env.TenantID, string(env.Payload), env.OccurredAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	seq, err := j.Append(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJournal_Read(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	j := NewSQLJournal(db)
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"sequence", "event_id", "event_type", "schema_version",
		"trace_id", "tenant_id", "payload", "occurred_at",
	}).
		AddRow(int64(3), "evt-3", event.TypeCreditAllocated, 2, "trace-3", "tenant-a",
			`{"entity_id":"agent-1","amount_minor":10000}`, occurred).
		AddRow(int64(4), "evt-4", event.TypeCreditConsumed, 1, "trace-4", "tenant-a",
			`{"entity_id":"agent-1","amount_minor":500}`, occurred)

	mock.ExpectQuery(`SELECT sequence, event_id, event_type, schema_version, trace_id, tenant_id, payload, occurred_at`).
		WithArgs(int64(2), 50).
		WillReturnRows(rows)

	events, err := j.Read(context.Background(), 2, 50)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, uint64(3), events[0].Sequence)
	assert.Equal(t, "evt-3", events[0].EventID)
	assert.Equal(t, event.TypeCreditAllocated, events[0].EventType)
	assert.JSONEq(t, `{"entity_id":"agent-1","amount_minor":10000}`, string(events[0].Payload))
	assert.Equal(t, uint64(4), events[1].Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJournal_Rewrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	j := NewSQLJournal(db)

	env := &event.Envelope{
		EventID:       "evt-3",
		EventType:     event.TypeCreditAllocated,
		SchemaVersion: 2,
		Payload:       []byte(`{"entity_id":"agent-1","amount_minor":2500}`),
		Sequence:      3,
	}

	mock.ExpectExec(`UPDATE credit_events SET schema_version`).
		WithArgs(2, string(env.Payload), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, j.Rewrite(context.Background(), env))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJournal_RewriteMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	j := NewSQLJournal(db)

	mock.ExpectExec(`UPDATE credit_events SET schema_version`).
		WithArgs(2, "{}", int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = j.Rewrite(context.Background(), &event.Envelope{
		SchemaVersion: 2,
		Payload:       []byte(`{}`),
		Sequence:      99,
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJournal_LastSequence(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	j := NewSQLJournal(db)

	mock.ExpectQuery(`SELECT MAX\(sequence\) FROM credit_events`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(12)))

	last, err := j.LastSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12), last)
	assert.NoError(t, mock.ExpectationsWereMet())
}
