package journal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tallylabs/creditcore/pkg/event"
)

// SQLJournal implements Journal using database/sql.
// It supports both Postgres and SQLite via standard drivers.
//
// Sequence numbers are assigned inside the append transaction from
// MAX(sequence)+1; the primary key rejects the loser if two writers race,
// which surfaces as ErrUnavailable and is safe to retry.
type SQLJournal struct {
	db *sql.DB
}

func NewSQLJournal(db *sql.DB) *SQLJournal {
	return &SQLJournal{db: db}
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS credit_events (
	sequence BIGINT PRIMARY KEY,
	event_id TEXT UNIQUE NOT NULL,
	event_type TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	trace_id TEXT,
	tenant_id TEXT,
	payload TEXT,
	occurred_at TIMESTAMP NOT NULL
);
`

func (s *SQLJournal) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, journalSchema)
	return err
}

// Append implements Journal.
func (s *SQLJournal) Append(ctx context.Context, env *event.Envelope) (uint64, error) {
	if err := env.Validate(); err != nil {
		return 0, err
	}
	if env.Sequence != 0 {
		return 0, event.ErrStorageFieldsSet
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var last sql.NullInt64
	row := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM credit_events`)
	if err := row.Scan(&last); err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}
	seq := uint64(last.Int64) + 1

	occurred := env.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	query := `
		INSERT INTO credit_events (sequence, event_id, event_type, schema_version, trace_id, tenant_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, query,
		int64(seq), env.EventID, env.EventType, env.SchemaVersion,
		env.TraceID, env.TenantID, string(env.Payload), occurred,
	)
	if err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}

	env.Sequence = seq
	return seq, nil
}

// Read implements Journal.
func (s *SQLJournal) Read(ctx context.Context, afterSeq uint64, limit int) ([]*event.Envelope, error) {
	limit = normalizeLimit(limit)

	query := `
		SELECT sequence, event_id, event_type, schema_version, trace_id, tenant_id, payload, occurred_at
		FROM credit_events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, int64(afterSeq), limit)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*event.Envelope, 0, limit)
	for rows.Next() {
		var (
			env     event.Envelope
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &env.EventID, &env.EventType, &env.SchemaVersion,
			&env.TraceID, &env.TenantID, &payload, &env.OccurredAt); err != nil {
			return nil, err
		}
		env.Sequence = uint64(seq)
		env.Payload = []byte(payload)
		result = append(result, &env)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Rewrite replaces the stored payload and schema version of the event at
// env.Sequence. Only bulk schema migrations use this; the journal is
// append-only for every other purpose.
func (s *SQLJournal) Rewrite(ctx context.Context, env *event.Envelope) error {
	query := `UPDATE credit_events SET schema_version = $1, payload = $2 WHERE sequence = $3`
	res, err := s.db.ExecContext(ctx, query, env.SchemaVersion, string(env.Payload), int64(env.Sequence))
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// LastSequence implements Journal.
func (s *SQLJournal) LastSequence(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM credit_events`)
	if err := row.Scan(&last); err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}
	return uint64(last.Int64), nil
}
